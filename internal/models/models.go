package models

import "time"

// Room is a persisted chat room. PasswordHash is never serialized.
type Room struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PasswordHash string    `json:"-"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasPassword reports whether joining or deleting the room requires a password.
func (r *Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// RoomSummary is the listing shape of a room.
type RoomSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

type Message struct {
	ID       int64     `json:"id"`
	RoomID   int64     `json:"room_id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
	IsEdited bool      `json:"is_edited"`
}
