// Package client implements Coordinator (the spec's "QueryClient"): the
// thin facade applications hold to prefetch, read, invalidate, and mutate
// cached data, plus hydrate/dehydrate for persistence (spec.md §4.10).
// Grounded on the teacher's internal/app.FileService facade, which wraps a
// storage/network/crypto subsystem behind a handful of narrow, orchestrating
// methods rather than exposing its internals directly.
package client

import (
	"context"
	"time"

	"github.com/peervault-labs/fluquery/internal/fetch"
	"github.com/peervault-labs/fluquery/internal/mutation"
	"github.com/peervault-labs/fluquery/internal/observer"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// Coordinator is the application-facing facade over a QueryCache,
// FetchCoordinator, and MutationCache triple (spec.md §4.10 Coordinator).
type Coordinator struct {
	Cache       *querycache.Cache
	Fetch       *fetch.Coordinator
	Mutations   *mutation.MutationCache
	Persistence *persistence.Manager
	Telemetry   *Telemetry
}

// Config bundles the defaults a new Coordinator applies to queries created
// with no attached observer (spec.md §3).
type Config struct {
	DefaultStaleTime time.Duration
	DefaultGCTime    time.Duration
	Network          fetch.NetworkMonitor
}

// New assembles a Coordinator with a fresh QueryCache and FetchCoordinator.
// Persistence is left nil; call WithPersistence to attach one.
func New(cfg Config) *Coordinator {
	cache := querycache.New(query.Config{
		DefaultStaleTime: cfg.DefaultStaleTime,
		DefaultGCTime:    cfg.DefaultGCTime,
	})
	mutations := mutation.New()
	return &Coordinator{
		Cache:     cache,
		Fetch:     fetch.New(cache, cfg.Network, nil),
		Mutations: mutations,
		Telemetry: newTelemetry(cache, mutations),
	}
}

// WithPersistence attaches a persistence.Manager to this Coordinator's
// cache, enabling write-through and hydrate/dehydrate. It also registers a
// health check against persister on this Coordinator's Telemetry.
func (c *Coordinator) WithPersistence(persister persistence.Persister, codec *persistence.Codec) *Coordinator {
	c.Persistence = persistence.New(c.Cache, persister, codec)
	c.Telemetry.RegisterPersistenceHealthCheck(persister)
	return c
}

// Close releases the Coordinator's background resources: persistence
// write-through subscription and telemetry event subscriptions.
func (c *Coordinator) Close() {
	if c.Persistence != nil {
		c.Persistence.Close()
	}
	c.Telemetry.close()
}

// PrefetchQuery ensures key has fresh data without attaching an observer: it
// builds the query if absent and, if stale or missing, runs fn and waits
// for the result (spec.md §4.10 "prefetchQuery").
func (c *Coordinator) PrefetchQuery(key querykey.Key, fn fetch.QueryFn, opts fetch.Options) error {
	q, _, err := c.Cache.Build(key)
	if err != nil {
		return err
	}
	if !q.IsStale(time.Now()) {
		return nil
	}
	_, err = c.Fetch.Ensure(q, fn, opts).Wait(context.Background())
	return err
}

// GetQueryData returns the current data for key, if any (spec.md §4.10
// "getQueryData").
func (c *Coordinator) GetQueryData(key querykey.Key) (any, bool) {
	q, ok := c.Cache.Get(key)
	if !ok {
		return nil, false
	}
	snap := q.Snapshot()
	return snap.Data, snap.HasData
}

// SetQueryData writes data directly into the cache for key, creating the
// query if absent, without affecting any in-flight fetch (spec.md §4.10
// "setQueryData"; see DESIGN.md for the resolved open question on
// interaction with in-flight fetches).
func (c *Coordinator) SetQueryData(key querykey.Key, updater func(prev any, hasPrev bool) any) error {
	q, _, err := c.Cache.Build(key)
	if err != nil {
		return err
	}
	q.SetData(updater, time.Now())
	c.Cache.NotifyUpdated(q)
	return nil
}

// InvalidateQueries marks every query matching opts as invalidated, and
// triggers a forced refetch for any that currently have attached observers
// (spec.md §4.10 "invalidateQueries").
func (c *Coordinator) InvalidateQueries(opts querycache.FindOptions, fn fetch.QueryFn) {
	for _, q := range c.Cache.FindAll(opts) {
		hasObservers := q.Invalidate()
		c.Cache.NotifyUpdated(q)
		if hasObservers && fn != nil {
			retryCfg, _ := q.RetryConfig()
			c.Fetch.Force(q, fn, fetch.Options{Retry: retryCfg.Retry, RetryDelay: retryCfg.RetryDelay})
		}
	}
}

// CancelQueries cancels the in-flight fetch, if any, for every query
// matching opts (spec.md §4.10 "cancelQueries").
func (c *Coordinator) CancelQueries(opts querycache.FindOptions) {
	for _, q := range c.Cache.FindAll(opts) {
		c.Fetch.Cancel(q)
	}
}

// RefetchQueries forces a refetch for every query matching opts that has
// attached observers (spec.md §4.10 "refetchQueries").
func (c *Coordinator) RefetchQueries(opts querycache.FindOptions, fn fetch.QueryFn) {
	for _, q := range c.Cache.FindAll(opts) {
		if q.ObserverCount() == 0 {
			continue
		}
		retryCfg, _ := q.RetryConfig()
		c.Fetch.Force(q, fn, fetch.Options{Retry: retryCfg.Retry, RetryDelay: retryCfg.RetryDelay})
	}
}

// Clear empties the cache entirely (spec.md §4.10 "clear").
func (c *Coordinator) Clear() {
	c.Cache.Clear()
}

// Subscribe creates an Observer for key, the application-facing entry point
// into internal/observer (spec.md §4.7 attach). If opts.Persist is set and
// WithPersistence has been called, the Query is registered for
// write-through/hydrate persistence before the Observer's initial
// mount-time fetch decision, so a freshly-hydrated raw value gets its
// deserialization pass before any observer ever reads it.
func (c *Coordinator) Subscribe(key querykey.Key, fn fetch.QueryFn, opts observer.Options) (*observer.Observer, error) {
	if opts.Persist != nil && c.Persistence != nil {
		q, _, err := c.Cache.Build(key)
		if err != nil {
			return nil, err
		}
		c.Persistence.RegisterPersist(q, *opts.Persist)
	}
	return observer.New(c.Cache, c.Fetch, key, fn, opts)
}

// SubscribeInfinite creates an InfiniteObserver for key (spec.md §4.8).
func (c *Coordinator) SubscribeInfinite(key querykey.Key, fn fetch.QueryFn, opts observer.InfiniteOptions) (*observer.InfiniteObserver, error) {
	return observer.NewInfinite(c.Cache, key, fn, opts)
}

// Mutate runs fn as a tracked, optimistic mutation (spec.md §4.9).
func (c *Coordinator) Mutate(fn mutation.MutationFn, variables any, opts mutation.Options) (*mutation.Mutation, mutation.Future) {
	return c.Mutations.Execute(fn, variables, opts)
}

// Hydrate seeds every persisted query's raw data into the cache (spec.md
// §4.11). Requires WithPersistence to have been called. Per-key maxAge
// discard happens later, when an application registers persist options for
// that key via Subscribe's opts.Persist.
func (c *Coordinator) Hydrate() error {
	if c.Persistence == nil {
		return nil
	}
	return c.Persistence.Hydrate()
}

// Dehydrate returns the serializable snapshot of every persistable query
// (spec.md §4.11). Requires WithPersistence to have been called.
func (c *Coordinator) Dehydrate() ([]persistence.PersistedQuery, error) {
	if c.Persistence == nil {
		return nil, nil
	}
	return c.Persistence.Dehydrate()
}
