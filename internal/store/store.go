package store

import (
	"context"
	"errors"

	"github.com/pliu/roomchat/internal/models"
)

var (
	// ErrValidation is returned when a required field is missing or empty.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when the referenced room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a room password does not verify.
	ErrForbidden = errors.New("forbidden")
)

// RoomStore persists rooms. Password hashes never leave the store through
// ListRooms.
type RoomStore interface {
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
	CreateRoom(ctx context.Context, name, description, password, username string) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	VerifyPassword(ctx context.Context, id int64, candidate string) (bool, error)
	DeleteRoom(ctx context.Context, id int64, candidate string) error
}

// MessageStore persists messages. EditMessage and DeleteMessage report
// whether a row matched the id, the room and the claimed author.
type MessageStore interface {
	ListMessages(ctx context.Context, roomID int64) ([]models.Message, error)
	AddMessage(ctx context.Context, roomID int64, username, text string) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	EditMessage(ctx context.Context, roomID, id int64, username, newText string) (bool, error)
	DeleteMessage(ctx context.Context, roomID, id int64, username string) (bool, error)
}

type Store interface {
	RoomStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
