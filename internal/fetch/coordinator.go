// Package fetch implements FetchCoordinator: the single-flight wrapper
// around a query's queryFn, with retry and cancellation propagation
// (spec.md §4.6). The single-flight waiter/epoch bookkeeping is grounded on
// the consul agent-cache's fetch() waiter-channel pattern (see
// _examples/other_examples, hashicorp consul agent/cache/cache.go), adapted
// from a background-refresh blocking-query model to spec.md's
// explicit-retry, explicit-cancellation model.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/peervault-labs/fluquery/internal/cancel"
	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
	"github.com/peervault-labs/fluquery/internal/retry"
)

// Context is passed to a QueryFn for one fetch attempt (spec.md §4.6).
type Context struct {
	Key       querykey.Key
	Signal    *cancel.Signal
	PageParam any
	Meta      map[string]any
}

// QueryFn performs the actual read. It is expected to call
// ctx.Signal.ThrowIfCancelled() at suspension points.
type QueryFn func(ctx Context) (any, error)

// NetworkMode controls whether a fetch pauses while offline (spec.md §4.6).
type NetworkMode string

const (
	NetworkModeOnline NetworkMode = "online"
	NetworkModeAlways NetworkMode = "always"
)

// NetworkMonitor is the external collaborator reporting connectivity
// (spec.md §6.1's focus/reconnect notifier, specialized to reconnect).
type NetworkMonitor interface {
	IsOnline() bool
	OnReconnect(fn func()) (unsubscribe func())
}

// AlwaysOnline is the default NetworkMonitor: never pauses.
type AlwaysOnline struct{}

func (AlwaysOnline) IsOnline() bool                          { return true }
func (AlwaysOnline) OnReconnect(func()) (unsubscribe func()) { return func() {} }

// Options configures one Ensure/Force call.
type Options struct {
	Retry       int
	RetryDelay  retry.DelayFunc
	NetworkMode NetworkMode
	PageParam   any
	Meta        map[string]any
	Limiter     *rate.Limiter
}

// Future represents one in-flight (or just-completed) fetch execution.
// Concurrent callers that attach to the same underlying execution share the
// same Future (spec.md §8 invariant 1, "single-flight").
type Future struct {
	done  chan struct{}
	mu    sync.Mutex
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v any, err error) {
	f.mu.Lock()
	f.value, f.err = v, err
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the fetch resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Coordinator owns the single-flight guarantee across all queries in one
// cache.
type Coordinator struct {
	cache   *querycache.Cache
	network NetworkMonitor
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[querykey.Hash]*Future
}

// New creates a Coordinator bound to cache. network may be nil (defaults to
// AlwaysOnline).
func New(cache *querycache.Cache, network NetworkMonitor, logger *slog.Logger) *Coordinator {
	if network == nil {
		network = AlwaysOnline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cache:    cache,
		network:  network,
		logger:   logger,
		inFlight: make(map[querykey.Hash]*Future),
	}
}

// Ensure starts a fetch for q if one isn't already in flight (single-flight);
// if one is in flight, it returns that Future instead of starting a new one
// (spec.md §4.6 "If already fetching and forceRefetch=false, return current
// promise").
func (c *Coordinator) Ensure(q *query.Query, fn QueryFn, opts Options) *Future {
	return c.start(q, fn, opts, false)
}

// Force cancels any in-flight fetch for q and unconditionally starts a new
// one; the replaced fetch's eventual result is discarded (spec.md §4.6).
func (c *Coordinator) Force(q *query.Query, fn QueryFn, opts Options) *Future {
	return c.start(q, fn, opts, true)
}

func (c *Coordinator) start(q *query.Query, fn QueryFn, opts Options, force bool) *Future {
	hash := q.Hash()

	if force {
		// BeginForceFetch may invoke the superseded signal's OnCancel
		// callbacks, so it must run outside c.mu. Force never consults
		// inFlight before proceeding, so there's no check/claim race to
		// close here: every concurrent Force gets its own epoch and the
		// stale ones are cancelled by BeginForceFetch itself.
		signal, epoch := q.BeginForceFetch()
		fut := newFuture()
		c.mu.Lock()
		c.inFlight[hash] = fut
		c.mu.Unlock()
		go c.run(q, hash, epoch, signal, fn, opts, fut)
		return fut
	}

	// Ensure's single-flight guarantee requires "is one already in flight"
	// and "claim fetching" to be one atomic step. q.BeginFetch only takes
	// q's own mutex and never invokes a callback, so it's safe to call
	// while holding c.mu; that closes the race where two goroutines both
	// see inFlight empty and both end up calling fn.
	c.mu.Lock()
	if existing, ok := c.inFlight[hash]; ok {
		c.mu.Unlock()
		return existing
	}
	signal, started := q.BeginFetch()
	if !started {
		// q's fetchStatus is Fetching but nothing is registered in
		// inFlight for hash; can only happen if a caller drives q's fetch
		// lifecycle outside this Coordinator. Share the signal's owner by
		// returning an already-resolved no-op rather than starting a
		// second execution against the same query.
		c.mu.Unlock()
		fut := newFuture()
		fut.resolve(nil, nil)
		return fut
	}
	fut := newFuture()
	c.inFlight[hash] = fut
	c.mu.Unlock()

	go c.run(q, hash, q.Epoch(), signal, fn, opts, fut)
	return fut
}

func (c *Coordinator) run(q *query.Query, hash querykey.Hash, epoch uint64, signal *cancel.Signal, fn QueryFn, opts Options, fut *Future) {
	defer func() {
		c.mu.Lock()
		if c.inFlight[hash] == fut {
			delete(c.inFlight, hash)
		}
		c.mu.Unlock()
	}()

	if opts.NetworkMode == NetworkModeOnline && !c.network.IsOnline() {
		q.Pause(epoch)
		c.cache.NotifyUpdated(q)
		unsubscribe := c.network.OnReconnect(func() {
			c.resumeAfterPause(q, hash, epoch, signal, fn, opts, fut)
		})
		signal.OnCancel(unsubscribe)
		return
	}

	c.execute(q, epoch, signal, fn, opts, fut)
}

func (c *Coordinator) resumeAfterPause(q *query.Query, hash querykey.Hash, epoch uint64, signal *cancel.Signal, fn QueryFn, opts Options, fut *Future) {
	if signal.IsCancelled() || q.Epoch() != epoch {
		return
	}
	c.mu.Lock()
	c.inFlight[hash] = fut
	c.mu.Unlock()
	c.execute(q, epoch, signal, fn, opts, fut)
}

func (c *Coordinator) execute(q *query.Query, epoch uint64, signal *cancel.Signal, fn QueryFn, opts Options, fut *Future) {
	retryOpts := retry.Options{
		MaxRetries: opts.Retry,
		Delay:      opts.RetryDelay,
		Limiter:    opts.Limiter,
	}

	attempts := 0
	value, err := retry.Run(signal, retryOpts, func(s *cancel.Signal, attempt int) (any, error) {
		attempts = attempt + 1
		return fn(Context{Key: q.Key(), Signal: s, PageParam: opts.PageParam, Meta: opts.Meta})
	})

	now := time.Now()
	var cancelled *cancel.CancelledError
	switch {
	case asCancelledErr(err, &cancelled):
		q.CompleteCancelled(epoch)
		fut.resolve(nil, err)
		return
	case err != nil:
		if q.CompleteError(epoch, err, now, attempts) {
			c.cache.NotifyUpdated(q)
		}
		fut.resolve(nil, err)
	default:
		if q.CompleteSuccess(epoch, value, now) {
			c.cache.NotifyUpdated(q)
		}
		fut.resolve(value, nil)
	}
}

func asCancelledErr(err error, target **cancel.CancelledError) bool {
	for err != nil {
		if c, ok := err.(*cancel.CancelledError); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Cancel cancels the in-flight fetch for q, if any, without mutating
// the query's stored data/error (spec.md §4.10 "cancelQueries").
func (c *Coordinator) Cancel(q *query.Query) {
	if signal := q.CurrentSignal(); signal != nil {
		signal.Cancel("cancelQueries")
	}
}
