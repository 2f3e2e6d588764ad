// Handles storage of cached responses, grouped in named generations
package cache

import (
	"context"

	"github.com/jmgilman/go/errors"
)

// ErrGenerationDeleted is returned when writing through a store whose
// generation was deleted after it was opened.
var ErrGenerationDeleted = errors.New(errors.CodeNotFound, "cache generation was deleted")

// Storage holds every cache generation of an origin.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Opens the generation with the given name, creating it if absent
	Open(ctx context.Context, name string) (Store, error)
	// Reports whether a generation with the given name exists
	Has(ctx context.Context, name string) (bool, error)
	// Lists the names of all generations
	Keys(ctx context.Context) ([]string, error)
	// Deletes a generation and all of its entries.
	// returns false when the generation did not exist
	Delete(ctx context.Context, name string) (bool, error)
	// Releases resources held by the storage
	Close() error
}

// Store is a key-value store inside one generation.
// Concurrent writes to the same key are last-write-wins.
type Store interface {
	// Name of the generation this store belongs to
	Name() string
	// retrieves the value stored under key.
	// returns nil, nil when not found
	Get(ctx context.Context, key string) ([]byte, error)
	// stores value under key, replacing any previous value.
	// returns ErrGenerationDeleted once the generation is gone
	Set(ctx context.Context, key string, value []byte) error
	// lists the keys of every entry in the store
	Keys(ctx context.Context) ([]string, error)
}
