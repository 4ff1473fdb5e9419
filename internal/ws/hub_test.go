package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/roomchat/internal/models"
)

func newTestClient(hub *Hub, buffer int) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, buffer),
		log:  zerolog.Nop(),
		done: make(chan struct{}),
	}
}

func decodeQueued(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	default:
		t.Fatal("expected a queued event")
		return nil
	}
}

func TestFanOutComputesCanEditPerRecipient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	alice, bob := newTestClient(hub, 4), newTestClient(hub, 4)
	outsider := newTestClient(hub, 4)
	hub.registry.Register(1, alice, "alice")
	hub.registry.Register(1, bob, "bob")
	hub.registry.Register(2, outsider, "carol")

	msg := &models.Message{ID: 5, RoomID: 1, Username: "alice", Text: "hi", Time: time.Now()}
	req, err := encodeBroadcast(1, newMessageEvent(TypeMessage, msg, true))
	require.NoError(t, err)
	hub.fanOut(req)

	fromAlice := decodeQueued(t, alice)
	assert.Equal(t, TypeMessage, fromAlice["type"])
	assert.Equal(t, true, fromAlice["canEdit"])

	fromBob := decodeQueued(t, bob)
	assert.Equal(t, "alice", fromBob["username"])
	assert.Equal(t, "hi", fromBob["text"])
	assert.Equal(t, false, fromBob["canEdit"])

	assert.Empty(t, outsider.send, "other rooms must not receive the event")
}

func TestFanOutDeleteEvent(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	alice, bob := newTestClient(hub, 4), newTestClient(hub, 4)
	hub.registry.Register(1, alice, "alice")
	hub.registry.Register(1, bob, "bob")

	req, err := encodeBroadcast(1, DeleteEvent{Type: TypeDelete, MessageID: 9})
	require.NoError(t, err)
	assert.Equal(t, req.own, req.other)
	hub.fanOut(req)

	for _, c := range []*Client{alice, bob} {
		ev := decodeQueued(t, c)
		assert.Equal(t, TypeDelete, ev["type"])
		assert.Equal(t, float64(9), ev["messageId"])
	}
}

func TestFanOutSkipsNotReadyClients(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	closed := newTestClient(hub, 4)
	closed.close()
	full := newTestClient(hub, 1)
	full.send <- []byte(`{}`)
	ready := newTestClient(hub, 4)

	hub.registry.Register(1, closed, "a")
	hub.registry.Register(1, full, "b")
	hub.registry.Register(1, ready, "c")

	require.NoError(t, func() error {
		req, err := encodeBroadcast(1, RoomDeletedEvent{Type: TypeRoomDeleted, RoomID: 1})
		if err == nil {
			hub.fanOut(req)
		}
		return err
	}())

	assert.Empty(t, closed.send)
	assert.Len(t, full.send, 1)
	assert.True(t, full.closed, "a client with a full queue is closed as a slow consumer")

	ev := decodeQueued(t, ready)
	assert.Equal(t, TypeRoomDeleted, ev["type"])
}

func TestBroadcastPreservesOrderWithinRoom(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	a, b := newTestClient(hub, 64), newTestClient(hub, 64)
	hub.registry.Register(1, a, "alice")
	hub.registry.Register(1, b, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	for i := int64(1); i <= 20; i++ {
		require.NoError(t, hub.Broadcast(1, DeleteEvent{Type: TypeDelete, MessageID: i}))
	}
	// Run processes requests in order; a final join acts as a barrier.
	require.NoError(t, hub.join(newTestClient(hub, 1), 3, "x"))

	for _, c := range []*Client{a, b} {
		for i := 1; i <= 20; i++ {
			ev := decodeQueued(t, c)
			assert.Equal(t, float64(i), ev["messageId"])
		}
	}
}

func TestJoinHoldsBroadcastsUntilHistory(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	member := newTestClient(hub, 64)
	hub.registry.Register(1, member, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	joiner := newTestClient(hub, 64)
	require.NoError(t, hub.join(joiner, 1, "alice"))

	// Message 5 was stored before the history was read, message 6 after.
	for _, id := range []int64{5, 6} {
		msg := &models.Message{ID: id, Username: "bob", Text: "hi", Time: time.Now()}
		require.NoError(t, hub.Broadcast(1, newMessageEvent(TypeMessage, msg, true)))
	}

	// Nothing reaches the joiner before its history.
	require.NoError(t, hub.join(newTestClient(hub, 1), 3, "x"))
	assert.Empty(t, joiner.send)
	assert.Len(t, member.send, 2)

	history := HistoryEvent{Type: TypeHistory, Messages: []MessageEvent{
		newMessageEvent("", &models.Message{ID: 5, Username: "bob", Text: "hi"}, false),
	}}
	require.NoError(t, hub.releaseHistory(joiner, history))
	require.NoError(t, hub.join(newTestClient(hub, 1), 3, "y"))

	first := decodeQueued(t, joiner)
	assert.Equal(t, TypeHistory, first["type"])

	second := decodeQueued(t, joiner)
	assert.Equal(t, TypeMessage, second["type"])
	assert.Equal(t, float64(6), second["id"])
	assert.Equal(t, false, second["canEdit"])
	assert.Empty(t, joiner.send, "message 5 is already in the history")

	// Once released, broadcasts flow directly.
	require.NoError(t, hub.Broadcast(1, DeleteEvent{Type: TypeDelete, MessageID: 6}))
	require.NoError(t, hub.join(newTestClient(hub, 1), 3, "z"))
	assert.Equal(t, TypeDelete, decodeQueued(t, joiner)["type"])
}

func TestReleaseAfterLeaveIsDropped(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := newTestClient(hub, 8)
	require.NoError(t, hub.join(c, 1, "alice"))
	require.NoError(t, hub.leave(c, 1))
	require.NoError(t, hub.releaseHistory(c, HistoryEvent{Type: TypeHistory, Messages: []MessageEvent{}}))
	require.NoError(t, hub.join(newTestClient(hub, 1), 3, "x"))

	assert.Empty(t, c.send)
	assert.False(t, hub.Registry().Has(1))
}

func TestHubStoppedRejectsRequests(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, hub.Wait(waitCtx))

	err := hub.Broadcast(1, DeleteEvent{Type: TypeDelete, MessageID: 1})
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.False(t, hub.track())
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"https://chat.example.com", "not a url"}, zerolog.Nop())
	assert.False(t, p.allowAll)
	assert.Len(t, p.allowed, 1)

	open := newOriginPolicy(nil, zerolog.Nop())
	assert.True(t, open.allowAll)
}
