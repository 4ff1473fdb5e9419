package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pliu/roomchat/internal/models"
)

// Event types exchanged over the websocket.
const (
	TypeJoin        = "join"
	TypeMessage     = "message"
	TypeEdit        = "edit"
	TypeDelete      = "delete"
	TypeHistory     = "history"
	TypeError       = "error"
	TypeRoomDeleted = "room_deleted"
)

var (
	// ErrMalformedEvent marks a payload that is not a JSON event object.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEventType marks a well-formed event with an unsupported type.
	ErrUnknownEventType = errors.New("unknown event type")
)

// ID is a numeric identifier that decodes from either a JSON number or a
// numeric string, since browsers often read ids back out of DOM attributes.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", b)
	}
	*id = ID(n)
	return nil
}

// InboundEvent is the union of all client to server events.
type InboundEvent struct {
	Type      string `json:"type"`
	RoomID    ID     `json:"roomId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	MessageID ID     `json:"messageId"`
	NewText   string `json:"newText"`
}

// DecodeEvent parses raw into an InboundEvent. Errors wrap either
// ErrMalformedEvent or ErrUnknownEventType.
func DecodeEvent(raw []byte) (*InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch ev.Type {
	case TypeJoin, TypeMessage, TypeEdit, TypeDelete:
		return &ev, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
}

// MessageEvent carries one message to a client. CanEdit depends on who
// receives it.
type MessageEvent struct {
	Type     string    `json:"type,omitempty"`
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
	IsEdited bool      `json:"is_edited"`
	CanEdit  bool      `json:"canEdit"`
}

func newMessageEvent(eventType string, m *models.Message, canEdit bool) MessageEvent {
	return MessageEvent{
		Type:     eventType,
		ID:       m.ID,
		Username: m.Username,
		Text:     m.Text,
		Time:     m.Time,
		IsEdited: m.IsEdited,
		CanEdit:  canEdit,
	}
}

type HistoryEvent struct {
	Type     string         `json:"type"`
	Messages []MessageEvent `json:"messages"`
}

type DeleteEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

type RoomDeletedEvent struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}
