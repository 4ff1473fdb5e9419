package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/roomchat/internal/store/sqlstore"
)

type recordingCloser struct {
	closed []int64
}

func (c *recordingCloser) CloseRoom(roomID int64) error {
	c.closed = append(c.closed, roomID)
	return nil
}

func newTestRouter(t *testing.T) (*mux.Router, *sqlstore.SQLStore, *recordingCloser) {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	closer := &recordingCloser{}
	h := &RoomHandler{Store: st, Hub: closer, Log: zerolog.Nop()}
	r := mux.NewRouter()
	h.Register(r)
	return r, st, closer
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func roomPath(id int64, suffix string) string {
	return "/api/rooms/" + strconv.FormatInt(id, 10) + suffix
}

func TestCreateRoom(t *testing.T) {
	r, st, _ := newTestRouter(t)

	rr := do(r, http.MethodPost, "/api/rooms", CreateRoomRequest{
		Name:        "General",
		Description: "anything goes",
		Password:    "secret",
		Username:    "alice",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotContains(t, rr.Body.String(), "password")

	resp := decode[CreateRoomResponse](t, rr)
	assert.NotZero(t, resp.ID)
	assert.Equal(t, "General", resp.Name)
	assert.Equal(t, "anything goes", resp.Description)
	assert.Equal(t, "alice", resp.CreatedBy)

	room, err := st.GetRoom(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.True(t, room.HasPassword())
	assert.NotEqual(t, "secret", room.PasswordHash)
}

func TestCreateRoomValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", CreateRoomRequest{Username: "alice"}},
		{"missing username", CreateRoomRequest{Name: "General"}},
		{"blank name", CreateRoomRequest{Name: "   ", Username: "alice"}},
		{"not json", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(r, http.MethodPost, "/api/rooms", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rr)["error"])
		})
	}
}

func TestListRooms(t *testing.T) {
	r, st, _ := newTestRouter(t)

	rr := do(r, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	ctx := context.Background()
	_, err := st.CreateRoom(ctx, "General", "", "secret", "alice")
	require.NoError(t, err)
	_, err = st.CreateRoom(ctx, "Random", "misc", "", "bob")
	require.NoError(t, err)

	rr = do(r, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")

	rooms := decode[[]map[string]any](t, rr)
	require.Len(t, rooms, 2)
	assert.Equal(t, "General", rooms[0]["name"])
	assert.Equal(t, "Random", rooms[1]["name"])
	assert.Equal(t, "bob", rooms[1]["created_by"])
}

func TestGetRoom(t *testing.T) {
	r, st, _ := newTestRouter(t)
	ctx := context.Background()
	locked, err := st.CreateRoom(ctx, "General", "", "secret", "alice")
	require.NoError(t, err)
	open, err := st.CreateRoom(ctx, "Random", "", "", "bob")
	require.NoError(t, err)

	rr := do(r, http.MethodGet, roomPath(locked.ID, ""), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[RoomResponse](t, rr).HasPassword)

	rr = do(r, http.MethodGet, roomPath(open.ID, ""), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[RoomResponse](t, rr)
	assert.False(t, got.HasPassword)
	assert.Equal(t, "Random", got.Name)

	rr = do(r, http.MethodGet, roomPath(999, ""), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCheckPassword(t *testing.T) {
	r, st, _ := newTestRouter(t)
	room, err := st.CreateRoom(context.Background(), "General", "", "secret", "alice")
	require.NoError(t, err)

	rr := do(r, http.MethodPost, roomPath(room.ID, "/check-password"), PasswordRequest{Password: "secret"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"valid":true}`, rr.Body.String())

	rr = do(r, http.MethodPost, roomPath(room.ID, "/check-password"), PasswordRequest{Password: "wrong"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"valid":false}`, rr.Body.String())

	rr = do(r, http.MethodPost, roomPath(999, "/check-password"), PasswordRequest{Password: "secret"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteRoom(t *testing.T) {
	r, st, closer := newTestRouter(t)
	ctx := context.Background()
	room, err := st.CreateRoom(ctx, "General", "", "secret", "alice")
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, room.ID, "alice", "hello")
	require.NoError(t, err)

	rr := do(r, http.MethodDelete, roomPath(room.ID, ""), PasswordRequest{Password: "wrong"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, closer.closed)

	rr = do(r, http.MethodDelete, roomPath(room.ID, ""), PasswordRequest{Password: "secret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Equal(t, []int64{room.ID}, closer.closed)

	messages, err := st.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	rr = do(r, http.MethodGet, "/api/rooms", nil)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = do(r, http.MethodDelete, roomPath(room.ID, ""), PasswordRequest{Password: "secret"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteOpenRoomWithoutBody(t *testing.T) {
	r, st, closer := newTestRouter(t)
	room, err := st.CreateRoom(context.Background(), "Random", "", "", "bob")
	require.NoError(t, err)

	rr := do(r, http.MethodDelete, roomPath(room.ID, ""), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []int64{room.ID}, closer.closed)
}

func TestDeleteOpenRoomChunkedEmptyBody(t *testing.T) {
	r, st, closer := newTestRouter(t)
	room, err := st.CreateRoom(context.Background(), "Random", "", "", "bob")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, roomPath(room.ID, ""), http.NoBody)
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []int64{room.ID}, closer.closed)
}

func TestDeleteRoomMalformedBody(t *testing.T) {
	r, st, _ := newTestRouter(t)
	room, err := st.CreateRoom(context.Background(), "General", "", "secret", "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, roomPath(room.ID, ""), bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidRoomID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Non-numeric ids do not match the route.
	rr := do(r, http.MethodGet, "/api/rooms/abc", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	h := &RoomHandler{Log: zerolog.Nop()}
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/0", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "0"})
	rec := httptest.NewRecorder()
	h.GetRoom(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	r, st, _ := newTestRouter(t)

	rr := do(r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rr)["status"])

	st.Close()
	rr = do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
