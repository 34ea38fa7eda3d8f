package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/Tyrowin/messenger/internal/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	image TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	messages TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_room_time ON conversations (room_id, timestamp);
`

// SQLiteStore persists everything in a SQLite database file.
type SQLiteStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

type conversationRow struct {
	ID        string `db:"id"`
	RoomID    string `db:"room_id"`
	Timestamp int64  `db:"timestamp"`
	Messages  string `db:"messages"`
}

// OpenSQLite opens the database file and creates the schema if needed.
func OpenSQLite(file string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", file, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &SQLiteStore{db: db, log: log.With(slog.String("component", "storage"), slog.String("driver", "sqlite"))}, nil
}

// ListRooms implements RoomStore.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]chat.Room, error) {
	rooms := []chat.Room{}
	if err := s.db.SelectContext(ctx, &rooms, "SELECT id, name, image FROM rooms ORDER BY rowid ASC"); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GetRoom implements RoomStore.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (chat.Room, error) {
	var room chat.Room
	err := s.db.GetContext(ctx, &room, "SELECT id, name, image FROM rooms WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Room{}, ErrNotFound
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("get room %s: %w", id, err)
	}
	return room, nil
}

// AddRoom implements RoomStore.
func (s *SQLiteStore) AddRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	room, err := prepareRoom(room)
	if err != nil {
		return chat.Room{}, err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO rooms (id, name, image) VALUES (?, ?, ?)", room.ID, room.Name, room.Image); err != nil {
		return chat.Room{}, fmt.Errorf("add room: %w", err)
	}
	s.log.Debug("room added", slog.String("room_id", room.ID), slog.String("name", room.Name))
	return room, nil
}

// AddConversation implements ConversationStore.
func (s *SQLiteStore) AddConversation(ctx context.Context, block chat.Block) (chat.Block, error) {
	block, err := prepareBlock(block)
	if err != nil {
		return chat.Block{}, err
	}
	messages, err := json.Marshal(block.Messages)
	if err != nil {
		return chat.Block{}, fmt.Errorf("encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, room_id, timestamp, messages) VALUES (?, ?, ?, ?)",
		block.ID, block.RoomID, block.Timestamp.UnixMilli(), string(messages),
	)
	if err != nil {
		return chat.Block{}, fmt.Errorf("add conversation: %w", err)
	}
	s.log.Debug("conversation added",
		slog.String("room_id", block.RoomID),
		slog.Int("count", len(block.Messages)),
		slog.Time("timestamp", block.Timestamp),
	)
	return block, nil
}

// LastConversationBefore implements ConversationStore.
func (s *SQLiteStore) LastConversationBefore(ctx context.Context, roomID string, before time.Time) (chat.Block, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, room_id, timestamp, messages FROM conversations
		 WHERE room_id = ? AND timestamp < ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT 1`,
		roomID, before.UnixMilli(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Block{}, ErrNotFound
	}
	if err != nil {
		return chat.Block{}, fmt.Errorf("last conversation for room %s: %w", roomID, err)
	}

	var messages []chat.Entry
	if err := json.Unmarshal([]byte(row.Messages), &messages); err != nil {
		return chat.Block{}, fmt.Errorf("decode messages: %w", err)
	}
	return chat.Block{
		ID:        row.ID,
		RoomID:    row.RoomID,
		Timestamp: time.UnixMilli(row.Timestamp),
		Messages:  messages,
	}, nil
}

// GetUser implements UserStore.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, "SELECT username, password FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return user, nil
}

// AddUser implements UserStore.
func (s *SQLiteStore) AddUser(ctx context.Context, user User) error {
	user, err := prepareUser(user)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO users (username, password) VALUES (?, ?)", user.Username, user.PasswordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
