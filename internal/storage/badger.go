package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Tyrowin/messenger/internal/chat"
)

const (
	roomPrefix         = "room:"
	userPrefix         = "user:"
	conversationPrefix = "conv:"
)

// BadgerStore persists everything in an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadger opens (or creates) a Badger database at path. An empty path
// opens an in-memory database.
func OpenBadger(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return NewBadgerStore(db, log), nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	if log == nil {
		log = slog.Default()
	}
	return &BadgerStore{db: db, log: log.With(slog.String("component", "storage"), slog.String("driver", "badger"))}
}

// conversationKey is "conv:{room_id}:{unix_millis_padded}:{block_id}". The
// 19-digit zero padding keeps keys of one room in chronological order.
func conversationKey(roomID string, at time.Time, id string) []byte {
	return fmt.Appendf(nil, "%s%s:%019d:%s", conversationPrefix, roomID, at.UnixMilli(), id)
}

func roomConversationPrefix(roomID string) []byte {
	return []byte(conversationPrefix + roomID + ":")
}

// ListRooms implements RoomStore.
func (s *BadgerStore) ListRooms(_ context.Context) ([]chat.Room, error) {
	rooms := []chat.Room{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(roomPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var room chat.Room
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &room)
			}); err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GetRoom implements RoomStore.
func (s *BadgerStore) GetRoom(_ context.Context, id string) (chat.Room, error) {
	var room chat.Room
	err := s.get([]byte(roomPrefix+id), &room)
	if err != nil {
		return chat.Room{}, err
	}
	return room, nil
}

// AddRoom implements RoomStore.
func (s *BadgerStore) AddRoom(_ context.Context, room chat.Room) (chat.Room, error) {
	room, err := prepareRoom(room)
	if err != nil {
		return chat.Room{}, err
	}
	if err := s.put([]byte(roomPrefix+room.ID), room); err != nil {
		return chat.Room{}, fmt.Errorf("add room: %w", err)
	}
	s.log.Debug("room added", slog.String("room_id", room.ID), slog.String("name", room.Name))
	return room, nil
}

// AddConversation implements ConversationStore.
func (s *BadgerStore) AddConversation(_ context.Context, block chat.Block) (chat.Block, error) {
	block, err := prepareBlock(block)
	if err != nil {
		return chat.Block{}, err
	}
	if err := s.put(conversationKey(block.RoomID, block.Timestamp, block.ID), block); err != nil {
		return chat.Block{}, fmt.Errorf("add conversation: %w", err)
	}
	s.log.Debug("conversation added",
		slog.String("room_id", block.RoomID),
		slog.Int("count", len(block.Messages)),
		slog.Time("timestamp", block.Timestamp),
	)
	return block, nil
}

// LastConversationBefore implements ConversationStore. It seeks a reverse
// iterator to the last key of the millisecond just before the bound.
func (s *BadgerStore) LastConversationBefore(_ context.Context, roomID string, before time.Time) (chat.Block, error) {
	bound := before.UnixMilli() - 1
	if bound < 0 {
		return chat.Block{}, ErrNotFound
	}

	var found chat.Block
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := roomConversationPrefix(roomID)
		// ';' sorts directly after ':', so every key stamped with bound is included.
		seek := fmt.Appendf(nil, "%s%019d;", prefix, bound)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var block chat.Block
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &block)
			}); err != nil {
				return err
			}
			if block.RoomID != roomID {
				continue
			}
			found = block
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return chat.Block{}, err
		}
		return chat.Block{}, fmt.Errorf("last conversation for room %s: %w", roomID, err)
	}
	return found, nil
}

// GetUser implements UserStore.
func (s *BadgerStore) GetUser(_ context.Context, username string) (User, error) {
	var user User
	if err := s.get([]byte(userPrefix+username), &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// AddUser implements UserStore.
func (s *BadgerStore) AddUser(_ context.Context, user User) error {
	user, err := prepareUser(user)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + user.Username)
		if _, err := txn.Get(key); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, payload)
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) put(key []byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
}

func (s *BadgerStore) get(key []byte, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
