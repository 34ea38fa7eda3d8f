// Package storage persists rooms, conversation blocks, and user credentials.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/messenger/internal/chat"
)

var (
	// ErrNotFound is returned when a room, user, or conversation does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidRoom is returned by AddRoom when the room has no name.
	ErrInvalidRoom = errors.New("storage: room name missing")
	// ErrInvalidBlock is returned by AddConversation for incomplete blocks.
	ErrInvalidBlock = errors.New("storage: missing required fields: room_id, timestamp, and messages")
	// ErrUserExists is returned by AddUser when the username is taken.
	ErrUserExists = errors.New("storage: user already exists")
)

// User is a stored credential.
type User struct {
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"password" db:"password"`
}

// RoomStore manages chat rooms.
type RoomStore interface {
	ListRooms(ctx context.Context) ([]chat.Room, error)
	GetRoom(ctx context.Context, id string) (chat.Room, error)
	AddRoom(ctx context.Context, room chat.Room) (chat.Room, error)
}

// ConversationStore persists conversation blocks.
type ConversationStore interface {
	AddConversation(ctx context.Context, block chat.Block) (chat.Block, error)
	// LastConversationBefore returns the most recent block for roomID with a
	// timestamp strictly before before.
	LastConversationBefore(ctx context.Context, roomID string, before time.Time) (chat.Block, error)
}

// UserStore manages user credentials.
type UserStore interface {
	GetUser(ctx context.Context, username string) (User, error)
	AddUser(ctx context.Context, user User) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	RoomStore
	ConversationStore
	UserStore
	Close() error
}

func prepareRoom(room chat.Room) (chat.Room, error) {
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		return chat.Room{}, ErrInvalidRoom
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.Image == "" {
		room.Image = chat.DefaultRoomImage
	}
	return room, nil
}

func prepareBlock(block chat.Block) (chat.Block, error) {
	if block.RoomID == "" || block.Timestamp.IsZero() || len(block.Messages) == 0 {
		return chat.Block{}, ErrInvalidBlock
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	// Blocks are stored with millisecond precision.
	block.Timestamp = time.UnixMilli(block.Timestamp.UnixMilli())
	return block, nil
}

func prepareUser(user User) (User, error) {
	if user.Username == "" || user.PasswordHash == "" {
		return User{}, fmt.Errorf("storage: username and password hash are required")
	}
	return user, nil
}
