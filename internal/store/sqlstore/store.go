package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/roomchat/internal/auth"
	"github.com/pliu/roomchat/internal/models"
	"github.com/pliu/roomchat/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// A single connection keeps :memory: databases and the foreign_keys
		// pragma consistent across queries.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		password TEXT,
		created_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER REFERENCES rooms(id) ON DELETE CASCADE,
		username TEXT NOT NULL,
		text TEXT NOT NULL,
		time DATETIME DEFAULT CURRENT_TIMESTAMP,
		is_edited BOOLEAN DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, time);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMPTZ")
	} else {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, COALESCE(description, ''), COALESCE(created_by, '') FROM rooms ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []models.RoomSummary{}
	for rows.Next() {
		var r models.RoomSummary
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *SQLStore) CreateRoom(ctx context.Context, name, description, password, username string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	if name == "" || username == "" {
		return nil, fmt.Errorf("%w: name and username are required", store.ErrValidation)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash room password: %w", err)
	}

	room := &models.Room{
		Name:         name,
		Description:  description,
		PasswordHash: hash,
		CreatedBy:    username,
		CreatedAt:    time.Now().UTC(),
	}

	query := s.rebind("INSERT INTO rooms (name, description, password, created_by, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id")
	err = s.db.QueryRowContext(ctx, query, room.Name, room.Description, nullable(hash), room.CreatedBy, room.CreatedAt).Scan(&room.ID)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *SQLStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var room models.Room
	query := s.rebind("SELECT id, name, COALESCE(description, ''), COALESCE(password, ''), COALESCE(created_by, ''), created_at FROM rooms WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &room.Name, &room.Description, &room.PasswordHash, &room.CreatedBy, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLStore) VerifyPassword(ctx context.Context, id int64, candidate string) (bool, error) {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return false, err
	}
	return auth.VerifyPassword(room.PasswordHash, candidate)
}

// DeleteRoom removes the room and all of its messages in one transaction
// once candidate verifies against the room password.
func (s *SQLStore) DeleteRoom(ctx context.Context, id int64, candidate string) error {
	ok, err := s.VerifyPassword(ctx, id, candidate)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("room %d: invalid password: %w", id, store.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Explicit cascade; does not depend on the driver enforcing foreign keys.
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE room_id = ?"), id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM rooms WHERE id = ?"), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLStore) ListMessages(ctx context.Context, roomID int64) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, room_id, username, text, time, is_edited
		FROM messages
		WHERE room_id = ?
		ORDER BY time ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Username, &m.Text, &m.Time, &m.IsEdited); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) AddMessage(ctx context.Context, roomID int64, username, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", store.ErrValidation)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", store.ErrValidation)
	}

	msg := &models.Message{
		RoomID:   roomID,
		Username: username,
		Text:     text,
		Time:     time.Now().UTC(),
	}
	query := s.rebind("INSERT INTO messages (room_id, username, text, time) VALUES (?, ?, ?, ?) RETURNING id")
	if err := s.db.QueryRowContext(ctx, query, msg.RoomID, msg.Username, msg.Text, msg.Time).Scan(&msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	query := s.rebind("SELECT id, room_id, username, text, time, is_edited FROM messages WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.RoomID, &m.Username, &m.Text, &m.Time, &m.IsEdited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EditMessage updates the text only when the message belongs to roomID and
// its stored author equals username. The WHERE clause is the SQL form of
// auth.CanModify, kept in the statement so check and mutation cannot race.
func (s *SQLStore) EditMessage(ctx context.Context, roomID, id int64, username, newText string) (bool, error) {
	if strings.TrimSpace(newText) == "" {
		return false, fmt.Errorf("%w: text is required", store.ErrValidation)
	}
	if username == "" {
		return false, nil
	}
	query := s.rebind("UPDATE messages SET text = ?, is_edited = TRUE WHERE id = ? AND room_id = ? AND username = ?")
	return s.execAffected(ctx, query, newText, id, roomID, username)
}

// DeleteMessage removes the message under the same conditions as EditMessage.
func (s *SQLStore) DeleteMessage(ctx context.Context, roomID, id int64, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	query := s.rebind("DELETE FROM messages WHERE id = ? AND room_id = ? AND username = ?")
	return s.execAffected(ctx, query, id, roomID, username)
}

func (s *SQLStore) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
