package server

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Scope selects which members receive a room's messages.
type Scope string

const (
	// ScopeGlobal delivers every message to every live member.
	ScopeGlobal Scope = "global"
	// ScopeRoom delivers only to members subscribed to the message's room.
	ScopeRoom Scope = "room"
)

// encodeMessage marshals v without escaping HTML, which has already been
// sanitized, and without the encoder's trailing newline.
func encodeMessage(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
