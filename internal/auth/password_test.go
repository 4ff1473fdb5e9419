package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"), "expected a bcrypt hash, got %q", hash)

	empty, err := HashPassword("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)

	tests := []struct {
		name      string
		hash      string
		candidate string
		want      bool
	}{
		{name: "Open room empty candidate", hash: "", candidate: "", want: true},
		{name: "Open room any candidate", hash: "", candidate: "anything", want: true},
		{name: "Matching password", hash: hash, candidate: "secret", want: true},
		{name: "Wrong password", hash: hash, candidate: "wrong", want: false},
		{name: "Empty candidate", hash: hash, candidate: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyPassword(tt.hash, tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestVerifyPasswordCorruptHash(t *testing.T) {
	_, err := VerifyPassword("not-a-bcrypt-hash", "secret")
	assert.Error(t, err)
}

func TestCanModify(t *testing.T) {
	assert.True(t, CanModify("alice", "alice"))
	assert.False(t, CanModify("alice", "bob"))
	assert.False(t, CanModify("alice", "Alice"))
	assert.False(t, CanModify("", ""))
}
