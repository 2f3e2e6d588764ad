package proxy

import (
	"context"
	"fmt"

	"github.com/iTrooz/offline-cache/internal/cache"
)

// Generation describes one stored cache generation
type Generation struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Entries int    `json:"entries"`
}

// ListGenerations lists the generations in storage, marking current
func ListGenerations(ctx context.Context, storage cache.Storage, current string) ([]Generation, error) {
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	gens := make([]Generation, 0, len(names))
	for _, name := range names {
		store, err := storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to open generation %s: %w", name, err)
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of %s: %w", name, err)
		}
		gens = append(gens, Generation{Name: name, Current: name == current, Entries: len(keys)})
	}
	return gens, nil
}
