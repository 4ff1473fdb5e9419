package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pliu/roomchat/internal/auth"
	"github.com/pliu/roomchat/internal/metrics"
	"github.com/pliu/roomchat/internal/store"
)

// ErrHubClosed is returned when a request reaches a hub that has stopped.
var ErrHubClosed = errors.New("hub closed")

// Options tune per-connection behaviour. Zero values fall back to defaults.
type Options struct {
	MaxMessageSize int64
	SendBuffer     int
	EventTimeout   time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 5 * time.Second
	}
	return o
}

type membership struct {
	client   *Client
	roomID   int64
	username string
}

// heldEvent is a broadcast payload kept for a connection that has joined a
// room but has not yet been sent its history.
type heldEvent struct {
	eventType string
	messageID int64
	payload   []byte
}

// historyRelease delivers a joined connection's history and then whatever
// was held for it, minus new messages the history already contains.
type historyRelease struct {
	client  *Client
	history []byte
	seen    map[int64]struct{}
}

// broadcastRequest holds an event serialized twice: once for its author
// (own) and once for everyone else (other). Events without an author use
// the same bytes for both.
type broadcastRequest struct {
	roomID    int64
	eventType string
	messageID int64
	author    string
	own       []byte
	other     []byte
}

// Hub owns the live connections and the room registry. All registry writes
// and every fan-out happen on the Run goroutine, so broadcasts for a room
// reach each member in the order they were submitted.
type Hub struct {
	store    store.Store
	log      zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader
	registry *Registry

	// Live connections and connections awaiting history, owned by Run.
	clients map[*Client]bool
	held    map[*Client][]heldEvent

	connect    chan *Client
	disconnect chan *Client
	register   chan membership
	unregister chan membership
	broadcast  chan broadcastRequest
	release    chan historyRelease

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	done    chan struct{}
}

func NewHub(st store.Store, logger zerolog.Logger, opts Options) *Hub {
	opts = opts.withDefaults()
	origins := newOriginPolicy(opts.AllowedOrigins, logger)
	return &Hub{
		store: st,
		log:   logger.With().Str("component", "hub").Logger(),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		registry:   NewRegistry(),
		clients:    make(map[*Client]bool),
		held:       make(map[*Client][]heldEvent),
		connect:    make(chan *Client),
		disconnect: make(chan *Client),
		register:   make(chan membership),
		unregister: make(chan membership),
		broadcast:  make(chan broadcastRequest),
		release:    make(chan historyRelease),
		done:       make(chan struct{}),
	}
}

// Registry exposes room membership for inspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes connection lifecycle and broadcast requests until ctx is
// cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			h.mu.Unlock()
			h.shutdownClients()
			return

		case c := <-h.connect:
			h.clients[c] = true
			metrics.ConnectionsActive.Set(float64(len(h.clients)))
			c.log.Info().Int("total_clients", len(h.clients)).Msg("client connected")

		case c := <-h.disconnect:
			delete(h.held, c)
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
				metrics.ConnectionsActive.Set(float64(len(h.clients)))
				c.log.Info().Int("total_clients", len(h.clients)).Msg("client disconnected")
			}

		case m := <-h.register:
			h.registry.Register(m.roomID, m.client, m.username)
			h.held[m.client] = nil
			metrics.RoomsActive.Set(float64(h.registry.Rooms()))

		case m := <-h.unregister:
			h.registry.Unregister(m.roomID, m.client)
			delete(h.held, m.client)
			metrics.RoomsActive.Set(float64(h.registry.Rooms()))

		case req := <-h.broadcast:
			h.fanOut(req)

		case rel := <-h.release:
			h.deliverHistory(rel)
		}
	}
}

func (h *Hub) fanOut(req broadcastRequest) {
	delivered, skipped := 0, 0
	h.registry.ForEach(req.roomID, func(c *Client, username string) {
		payload := req.other
		if req.author != "" && auth.CanModify(req.author, username) {
			payload = req.own
		}

		if pending, ok := h.held[c]; ok {
			h.held[c] = append(pending, heldEvent{eventType: req.eventType, messageID: req.messageID, payload: payload})
			return
		}
		if deliver(c, payload) {
			delivered++
		} else {
			skipped++
		}
	})

	metrics.BroadcastsTotal.WithLabelValues(req.eventType).Inc()
	h.log.Debug().
		Int64("room_id", req.roomID).
		Str("type", req.eventType).
		Int("delivered", delivered).
		Int("skipped", skipped).
		Msg("broadcast")
}

// deliverHistory sends the history reply, then replays broadcasts that
// arrived while it was being loaded. Messages already in the history are
// not sent twice.
func (h *Hub) deliverHistory(rel historyRelease) {
	pending, ok := h.held[rel.client]
	if !ok {
		// Left the room or disconnected in the meantime.
		return
	}
	delete(h.held, rel.client)

	if !deliver(rel.client, rel.history) {
		return
	}
	for _, ev := range pending {
		if _, dup := rel.seen[ev.messageID]; dup && ev.eventType == TypeMessage {
			continue
		}
		if !deliver(rel.client, ev.payload) {
			return
		}
	}
}

// deliver queues payload for c, closing c if its queue is full.
func deliver(c *Client, payload []byte) bool {
	err := c.enqueue(payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errSendQueueFull):
		metrics.DeliveriesSkipped.WithLabelValues("queue_full").Inc()
		c.log.Warn().Msg("send queue full, closing slow client")
		c.close()
	default:
		metrics.DeliveriesSkipped.WithLabelValues("closed").Inc()
	}
	return false
}

// Broadcast serializes ev and fans it out to every connection joined to
// roomID. A MessageEvent is encoded with canEdit set only for connections
// whose display name matches the author.
func (h *Hub) Broadcast(roomID int64, ev any) error {
	req, err := encodeBroadcast(roomID, ev)
	if err != nil {
		return err
	}
	return submit(h, h.broadcast, req)
}

// CloseRoom tells every connection in roomID that the room is gone.
func (h *Hub) CloseRoom(roomID int64) error {
	return h.Broadcast(roomID, RoomDeletedEvent{Type: TypeRoomDeleted, RoomID: roomID})
}

func encodeBroadcast(roomID int64, ev any) (broadcastRequest, error) {
	req := broadcastRequest{roomID: roomID}

	if m, ok := ev.(MessageEvent); ok {
		req.eventType = m.Type
		req.messageID = m.ID
		req.author = m.Username

		m.CanEdit = true
		own, err := json.Marshal(m)
		if err != nil {
			return req, err
		}
		m.CanEdit = false
		other, err := json.Marshal(m)
		if err != nil {
			return req, err
		}
		req.own, req.other = own, other
		return req, nil
	}

	switch e := ev.(type) {
	case DeleteEvent:
		req.eventType = e.Type
		req.messageID = e.MessageID
	case RoomDeletedEvent:
		req.eventType = e.Type
	default:
		req.eventType = "other"
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return req, err
	}
	req.own, req.other = b, b
	return req, nil
}

// join registers c in roomID. Broadcasts for c are held until
// releaseHistory is called.
func (h *Hub) join(c *Client, roomID int64, username string) error {
	return submit(h, h.register, membership{client: c, roomID: roomID, username: username})
}

func (h *Hub) releaseHistory(c *Client, history HistoryEvent) error {
	b, err := json.Marshal(history)
	if err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(history.Messages))
	for _, m := range history.Messages {
		seen[m.ID] = struct{}{}
	}
	return submit(h, h.release, historyRelease{client: c, history: b, seen: seen})
}

func (h *Hub) leave(c *Client, roomID int64) error {
	return submit(h, h.unregister, membership{client: c, roomID: roomID})
}

// submit hands v to the Run goroutine, or fails once the hub has stopped.
func submit[T any](h *Hub, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// track reserves the pump goroutines for a new connection.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.wg.Add(2)
	return true
}

func (h *Hub) shutdownClients() {
	for c := range h.clients {
		c.close()
	}
	h.log.Info().Int("clients", len(h.clients)).Msg("closed all client connections")
	metrics.ConnectionsActive.Set(0)
	metrics.RoomsActive.Set(0)
}

// Wait blocks until Run has returned and every connection goroutine has
// finished, or ctx expires.
func (h *Hub) Wait(ctx context.Context) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.log.Warn().Msg("hub shutdown timed out, some connections may still be open")
		return ctx.Err()
	}
}
