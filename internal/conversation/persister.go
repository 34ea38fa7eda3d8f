//go:generate go tool mockgen -source=persister.go -destination=mocks/mock_persister.go -package=mocks
package conversation

import (
	"context"

	"github.com/Tyrowin/messenger/internal/chat"
)

// Persister durably appends a conversation block.
type Persister interface {
	AddConversation(ctx context.Context, block chat.Block) (chat.Block, error)
}
