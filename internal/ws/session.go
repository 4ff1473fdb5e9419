package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pliu/roomchat/internal/auth"
	"github.com/pliu/roomchat/internal/metrics"
	"github.com/pliu/roomchat/internal/store"
)

var (
	errNotJoined     = errors.New("session has not joined a room")
	errNotPermitted  = errors.New("message not found or not written by this user")
	errSessionClosed = errors.New("session closed")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the per-connection protocol state. It is only touched by the
// connection's read goroutine, which handles one event at a time.
type Session struct {
	hub    *Hub
	client *Client
	store  store.Store
	log    zerolog.Logger

	state    State
	roomID   int64
	username string
}

func newSession(hub *Hub, c *Client) *Session {
	return &Session{
		hub:    hub,
		client: c,
		store:  hub.store,
		log:    c.log,
		state:  StateUnjoined,
	}
}

func (s *Session) State() State { return s.state }

// Handle decodes one raw event and applies it. Every mutation is persisted
// before anything is broadcast.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.state == StateClosed {
		return errSessionClosed
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("invalid", "malformed").Inc()
		return err
	}

	switch ev.Type {
	case TypeJoin:
		err = s.join(ctx, int64(ev.RoomID), ev.Username)
	case TypeMessage:
		err = s.message(ctx, ev.Text)
	case TypeEdit:
		err = s.edit(ctx, int64(ev.MessageID), ev.NewText)
	case TypeDelete:
		err = s.delete(ctx, int64(ev.MessageID))
	}

	metrics.EventsTotal.WithLabelValues(ev.Type, outcome(err)).Inc()
	return err
}

func (s *Session) join(ctx context.Context, roomID int64, username string) error {
	username = strings.TrimSpace(username)
	if roomID <= 0 || username == "" {
		return s.reject(TypeJoin, fmt.Errorf("%w: roomId and username are required", store.ErrValidation))
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return s.reject(TypeJoin, err)
	}

	// A connection belongs to at most one room.
	if s.state == StateJoined {
		if err := s.hub.leave(s.client, s.roomID); err != nil {
			return err
		}
		s.state = StateUnjoined
	}
	// Registering before loading history means no message is missed; the
	// hub holds this connection's broadcasts until the history is queued.
	if err := s.hub.join(s.client, roomID, username); err != nil {
		return err
	}

	messages, err := s.store.ListMessages(ctx, roomID)
	if err != nil {
		if leaveErr := s.hub.leave(s.client, roomID); leaveErr != nil {
			return leaveErr
		}
		return s.reject(TypeJoin, fmt.Errorf("load history: %w", err))
	}

	history := HistoryEvent{Type: TypeHistory, Messages: make([]MessageEvent, 0, len(messages))}
	for i := range messages {
		m := &messages[i]
		history.Messages = append(history.Messages, newMessageEvent("", m, auth.CanModify(m.Username, username)))
	}
	if err := s.hub.releaseHistory(s.client, history); err != nil {
		return err
	}

	s.state, s.roomID, s.username = StateJoined, roomID, username
	s.log = s.client.log.With().Int64("room_id", roomID).Str("username", username).Logger()
	s.log.Info().Msg("joined room")
	return nil
}

func (s *Session) message(ctx context.Context, text string) error {
	if s.state != StateJoined {
		return errNotJoined
	}

	msg, err := s.store.AddMessage(ctx, s.roomID, s.username, text)
	if err != nil {
		return s.reject(TypeMessage, err)
	}
	return s.hub.Broadcast(s.roomID, newMessageEvent(TypeMessage, msg, true))
}

func (s *Session) edit(ctx context.Context, messageID int64, newText string) error {
	if s.state != StateJoined {
		return errNotJoined
	}

	if err := s.authorize(ctx, messageID); err != nil {
		return s.reject(TypeEdit, fmt.Errorf("edit %d: %w", messageID, err))
	}

	ok, err := s.store.EditMessage(ctx, s.roomID, messageID, s.username, newText)
	if err != nil {
		return s.reject(TypeEdit, err)
	}
	if !ok {
		return s.reject(TypeEdit, fmt.Errorf("edit %d: %w", messageID, errNotPermitted))
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return s.reject(TypeEdit, err)
	}
	return s.hub.Broadcast(s.roomID, newMessageEvent(TypeEdit, msg, true))
}

func (s *Session) delete(ctx context.Context, messageID int64) error {
	if s.state != StateJoined {
		return errNotJoined
	}

	if err := s.authorize(ctx, messageID); err != nil {
		return s.reject(TypeDelete, fmt.Errorf("delete %d: %w", messageID, err))
	}

	ok, err := s.store.DeleteMessage(ctx, s.roomID, messageID, s.username)
	if err != nil {
		return s.reject(TypeDelete, err)
	}
	if !ok {
		return s.reject(TypeDelete, fmt.Errorf("delete %d: %w", messageID, errNotPermitted))
	}
	return s.hub.Broadcast(s.roomID, DeleteEvent{Type: TypeDelete, MessageID: messageID})
}

// authorize checks that the message lives in the joined room and that this
// session may modify it. The store repeats both conditions in its UPDATE and
// DELETE statements, so a row that changes in between is not touched.
func (s *Session) authorize(ctx context.Context, messageID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotPermitted
	}
	if err != nil {
		return err
	}
	if msg.RoomID != s.roomID || !auth.CanModify(msg.Username, s.username) {
		return errNotPermitted
	}
	return nil
}

// Close unregisters the connection from its room. It is safe to call more
// than once.
func (s *Session) Close() {
	if s.state == StateJoined {
		if err := s.hub.leave(s.client, s.roomID); err != nil && !errors.Is(err, ErrHubClosed) {
			s.log.Warn().Err(err).Msg("leaving room")
		}
	}
	s.state = StateClosed
}

// reject tells the originating connection that its event had no effect and
// returns err unchanged.
func (s *Session) reject(eventType string, err error) error {
	reply := ErrorEvent{Type: TypeError, Event: eventType, Error: clientMessage(err)}
	if sendErr := s.client.sendJSON(reply); sendErr != nil {
		s.log.Debug().Err(sendErr).Msg("could not deliver error reply")
	}
	return err
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return err.Error()
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	case errors.Is(err, errNotPermitted):
		return errNotPermitted.Error()
	default:
		return "internal error"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errNotJoined):
		return "ignored"
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrNotFound), errors.Is(err, errNotPermitted):
		return "rejected"
	default:
		return "failed"
	}
}
