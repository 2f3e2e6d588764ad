// Stores HTTP responses in a cache generation
package httpcache

import "github.com/iTrooz/offline-cache/internal/cache"

func New(store cache.Store) *HTTPCache {
	return &HTTPCache{
		store: store,
	}
}
