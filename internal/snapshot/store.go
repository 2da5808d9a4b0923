package snapshot

import (
	"context"
	"errors"

	"github.com/rickgao/chatlink/internal/model"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown snapshot backend")

// Store persists the delivery queue between runs. A snapshot is the full
// set of unsent messages; Save replaces whatever was stored before.
type Store interface {
	// Save replaces the stored snapshot.
	Save(ctx context.Context, msgs []model.Message) error

	// Load returns the stored snapshot, or an empty slice if none.
	Load(ctx context.Context) ([]model.Message, error)

	// Clear removes the stored snapshot.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
