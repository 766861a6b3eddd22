// Package memorypersister implements persistence.Persister backed by
// internal/cache's generic TTL memory cache, the reference Persister used by
// tests (spec.md §4.11 example storage).
package memorypersister

import (
	"context"
	"time"

	"github.com/peervault-labs/fluquery/internal/cache"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// noExpiry is used as the TTL passed to the backing cache.MemoryCache: entry
// expiry for persisted queries is the Manager's job (maxAge, checked when
// RegisterPersist deserializes a hydrated entry), not this store's.
const noExpiry = 100 * 365 * 24 * time.Hour

// Persister is an in-memory persistence.Persister. It keeps no expiry of its
// own; entries live until Remove'd, LRU-evicted past maxSize, or the
// process exits.
type Persister struct {
	store *cache.MemoryCache[persistence.PersistedQuery]
}

// New creates an empty in-memory Persister holding up to maxSize entries
// (LRU-evicted beyond that, per cache.MemoryCache).
func New(maxSize int) *Persister {
	return &Persister{store: cache.NewMemoryCache[persistence.PersistedQuery](maxSize)}
}

func (p *Persister) Save(hash querykey.Hash, entry persistence.PersistedQuery) error {
	return p.store.Set(context.Background(), string(hash), entry, noExpiry)
}

func (p *Persister) Load(hash querykey.Hash) (persistence.PersistedQuery, error) {
	entry, ok := p.store.Get(context.Background(), string(hash))
	if !ok {
		return persistence.PersistedQuery{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (p *Persister) Remove(hash querykey.Hash) error {
	return p.store.Delete(context.Background(), string(hash))
}

func (p *Persister) All() (map[querykey.Hash]persistence.PersistedQuery, error) {
	keys, err := p.store.Keys(context.Background())
	if err != nil {
		return nil, err
	}
	out := make(map[querykey.Hash]persistence.PersistedQuery, len(keys))
	for _, k := range keys {
		if entry, ok := p.store.Get(context.Background(), k); ok {
			out[querykey.Hash(k)] = entry
		}
	}
	return out, nil
}

// Stats exposes the backing cache's hit/miss/eviction counters for
// inspecting persister health.
func (p *Persister) Stats() cache.CacheStats {
	return p.store.Stats()
}

// Close stops the backing cache's cleanup goroutine.
func (p *Persister) Close() error {
	return p.store.Close()
}
