// Package querycache implements the indexed collection of Query instances:
// identity-keyed lookup, key-prefix scanning, and the synchronous cache
// event bus. Structurally grounded on the teacher's internal/cache.go
// map-plus-mutex lookup idiom, generalized from a flat TTL cache into a
// hash-plus-prefix index over Query aggregates.
package querycache

import (
	"sync"

	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// EventKind enumerates the cache event stream's event kinds (spec.md §4.5).
type EventKind string

const (
	EventAdded           EventKind = "added"
	EventUpdated         EventKind = "updated"
	EventRemoved         EventKind = "removed"
	EventObserverAdded   EventKind = "observerAdded"
	EventObserverRemoved EventKind = "observerRemoved"
)

// Event is delivered synchronously, in the order of the causative mutation
// (spec.md §4.5).
type Event struct {
	Kind  EventKind
	Query *query.Query
}

// Listener receives cache events. Listeners run synchronously inside the
// mutating call (spec.md §5 "synchronous fan-out"); they must not block or
// re-enter the Cache.
type Listener func(Event)

// Type selects which queries FindAll returns, per spec.md §4.5.
type Type string

const (
	TypeActive   Type = "active"
	TypeInactive Type = "inactive"
	TypeAll      Type = "all"
)

// FindOptions filters FindAll/matching operations across the cache.
type FindOptions struct {
	Key       querykey.Key
	Predicate func(*query.Query) bool
	Type      Type
}

// Cache is the indexed collection of Query instances.
type Cache struct {
	mu        sync.RWMutex
	byHash    map[querykey.Hash]*query.Query
	listeners []Listener
	config    query.Config
}

// New creates an empty cache with the given default staleTime/gcTime,
// applied to queries created with no attached observer (prefetch,
// setQueryData on an absent key).
func New(cfg query.Config) *Cache {
	return &Cache{
		byHash: make(map[querykey.Hash]*query.Query),
		config: cfg,
	}
}

// Subscribe registers a listener for cache events and returns an unsubscribe
// function.
func (c *Cache) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

func (c *Cache) emit(ev Event) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		if l != nil {
			l(ev)
		}
	}
}

// Build returns the existing Query for key, or creates one (spec.md §4.5
// "build"). The second return value reports whether it was newly created.
func (c *Cache) Build(key querykey.Key) (*query.Query, bool, error) {
	hash, err := querykey.HashOf(key)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if q, ok := c.byHash[hash]; ok {
		c.mu.Unlock()
		return q, false, nil
	}
	q := query.New(key, hash, c.config, c)
	c.byHash[hash] = q
	c.mu.Unlock()

	c.emit(Event{Kind: EventAdded, Query: q})
	return q, true, nil
}

// Get returns the Query for key if present.
func (c *Cache) Get(key querykey.Key) (*query.Query, bool) {
	hash, err := querykey.HashOf(key)
	if err != nil {
		return nil, false
	}
	return c.GetByHash(hash)
}

// GetByHash returns the Query for hash if present.
func (c *Cache) GetByHash(hash querykey.Hash) (*query.Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.byHash[hash]
	return q, ok
}

// RemoveByHash implements query.Remover: it removes the Query (if still
// present) and emits a removed event. Called by a Query's own GC timer, or
// directly for Clear/evictions.
func (c *Cache) RemoveByHash(hash querykey.Hash) {
	c.mu.Lock()
	q, ok := c.byHash[hash]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byHash, hash)
	c.mu.Unlock()

	c.emit(Event{Kind: EventRemoved, Query: q})
}

// Remove removes a specific Query, cancelling any in-flight fetch.
func (c *Cache) Remove(q *query.Query) {
	if signal := q.CurrentSignal(); signal != nil {
		signal.Cancel("query removed from cache")
	}
	q.CancelGC()
	c.RemoveByHash(q.Hash())
}

// FindAll returns queries matching opts: by key prefix, by predicate, and/or
// by active/inactive/all observer-count filter (spec.md §4.5).
func (c *Cache) FindAll(opts FindOptions) []*query.Query {
	c.mu.RLock()
	candidates := make([]*query.Query, 0, len(c.byHash))
	for _, q := range c.byHash {
		candidates = append(candidates, q)
	}
	c.mu.RUnlock()

	result := make([]*query.Query, 0, len(candidates))
	for _, q := range candidates {
		if opts.Key != nil && !querykey.IsPrefix(opts.Key, q.Key()) {
			continue
		}
		if opts.Predicate != nil && !opts.Predicate(q) {
			continue
		}
		switch opts.Type {
		case TypeActive:
			if q.ObserverCount() == 0 {
				continue
			}
		case TypeInactive:
			if q.ObserverCount() > 0 {
				continue
			}
		}
		result = append(result, q)
	}
	return result
}

// All returns every Query currently in the cache.
func (c *Cache) All() []*query.Query {
	return c.FindAll(FindOptions{Type: TypeAll})
}

// NotifyUpdated emits an updated event for q. Callers (FetchCoordinator,
// Coordinator facade) invoke this after mutating a Query's state so
// subscribers see a consistent snapshot before the mutating call returns
// (spec.md §5 ordering guarantee).
func (c *Cache) NotifyUpdated(q *query.Query) {
	c.emit(Event{Kind: EventUpdated, Query: q})
}

// NotifyObserverAdded emits the observerAdded event for q.
func (c *Cache) NotifyObserverAdded(q *query.Query) {
	c.emit(Event{Kind: EventObserverAdded, Query: q})
}

// NotifyObserverRemoved emits the observerRemoved event for q.
func (c *Cache) NotifyObserverRemoved(q *query.Query) {
	c.emit(Event{Kind: EventObserverRemoved, Query: q})
}

// Clear cancels and removes every Query in the cache (spec.md §4.5).
func (c *Cache) Clear() {
	c.mu.Lock()
	all := make([]*query.Query, 0, len(c.byHash))
	for _, q := range c.byHash {
		all = append(all, q)
	}
	c.byHash = make(map[querykey.Hash]*query.Query)
	c.mu.Unlock()

	for _, q := range all {
		if signal := q.CurrentSignal(); signal != nil {
			signal.Cancel("cache cleared")
		}
		q.CancelGC()
		c.emit(Event{Kind: EventRemoved, Query: q})
	}
}

// Len returns the number of queries currently indexed.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}
