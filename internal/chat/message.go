// Package chat defines the message, room, and conversation block types that
// flow between the broker, the batcher, and the storage layer.
package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultRoomImage is assigned to rooms created without an image.
const DefaultRoomImage = "/client/assets/everyone-icon.png"

// AIUsername is the sender identity used for responder-generated messages.
const AIUsername = "AI"

var htmlEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// Sanitize escapes HTML tag delimiters so text is rendered literally by clients.
func Sanitize(s string) string {
	return htmlEscaper.Replace(s)
}

// Inbound is the JSON payload a client sends over its WebSocket connection.
// Any username field the client includes is ignored. Text is nil when the
// payload has no text field.
type Inbound struct {
	RoomID string  `json:"roomId"`
	Text   *string `json:"text"`
}

// Message is an accepted chat message. Username and Text are already
// sanitized; use NewMessage to construct one.
type Message struct {
	RoomID    string    `json:"roomId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"-"`
}

// NewMessage builds a sanitized Message stamped with the given receipt time.
func NewMessage(roomID, username, text string, at time.Time) Message {
	return Message{
		RoomID:    roomID,
		Username:  Sanitize(username),
		Text:      Sanitize(text),
		Timestamp: at,
	}
}

// Entry returns the persisted form of the message.
func (m Message) Entry() Entry {
	return Entry{Username: m.Username, Text: m.Text}
}

// Entry is a single message inside a conversation block.
type Entry struct {
	Username string `json:"username" db:"username"`
	Text     string `json:"text" db:"text"`
}

// Block is a timestamped batch of messages for one room.
type Block struct {
	ID        string
	RoomID    string
	Timestamp time.Time
	Messages  []Entry
}

// Room is a chat room known to the store.
type Room struct {
	ID    string `json:"_id" db:"id"`
	Name  string `json:"name" db:"name"`
	Image string `json:"image" db:"image"`
}

type blockJSON struct {
	ID        string  `json:"_id,omitempty"`
	RoomID    string  `json:"room_id"`
	Timestamp int64   `json:"timestamp"`
	Messages  []Entry `json:"messages"`
}

// MarshalJSON encodes the block with a millisecond epoch timestamp.
func (b Block) MarshalJSON() ([]byte, error) {
	messages := b.Messages
	if messages == nil {
		messages = []Entry{}
	}
	return json.Marshal(blockJSON{
		ID:        b.ID,
		RoomID:    b.RoomID,
		Timestamp: b.Timestamp.UnixMilli(),
		Messages:  messages,
	})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Block{
		ID:        raw.ID,
		RoomID:    raw.RoomID,
		Timestamp: time.UnixMilli(raw.Timestamp),
		Messages:  raw.Messages,
	}
	return nil
}
