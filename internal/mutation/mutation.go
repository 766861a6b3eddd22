// Package mutation implements Mutation and MutationCache: optimistic writes
// with onMutate/onSuccess/onError/onSettled lifecycle hooks and
// rollback-context plumbing (spec.md §4.9). The retry/cancellation
// discipline mirrors internal/fetch's use of internal/retry; the
// synchronous event fan-out mirrors internal/querycache.
package mutation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peervault-labs/fluquery/internal/cancel"
	"github.com/peervault-labs/fluquery/internal/retry"
)

// Status is a Mutation's lifecycle state (spec.md §4.9).
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// MutationFn performs the write. It receives the mutation's own cancellation
// signal, which Execute creates per call; this package has no operation that
// cancels it.
type MutationFn func(signal *cancel.Signal, variables any) (any, error)

// Options configures the lifecycle hooks for one mutation execution
// (spec.md §4.9). OnMutate's returned rollback context is threaded through
// to OnError/OnSuccess/OnSettled unchanged.
type Options struct {
	OnMutate   func(variables any) (rollbackContext any, err error)
	OnSuccess  func(data any, variables any, rollbackContext any)
	OnError    func(err error, variables any, rollbackContext any)
	OnSettled  func(data any, err error, variables any, rollbackContext any)
	Retry      int
	RetryDelay retry.DelayFunc
}

// State is an immutable snapshot of a Mutation at one instant.
type State struct {
	Status      Status
	Variables   any
	Data        any
	Err         error
	SubmittedAt time.Time
}

// Mutation is one optimistic-write execution.
type Mutation struct {
	mu    sync.Mutex
	id    string
	state State
}

// ID returns this mutation's identifier, generated at creation
// (google/uuid, consistent with the rest of the module's ID generation).
func (m *Mutation) ID() string { return m.id }

// Snapshot returns the current State.
func (m *Mutation) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// EventKind enumerates MutationCache event-stream kinds.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is delivered synchronously by MutationCache, in the order of the
// causative state transition.
type Event struct {
	Kind     EventKind
	Mutation *Mutation
}

// Listener receives Mutation events synchronously; it must not block.
type Listener func(Event)

// MutationCache tracks every in-flight and recently-settled Mutation
// (spec.md §4.9 MutationCache).
type MutationCache struct {
	mu        sync.Mutex
	byID      map[string]*Mutation
	listeners []Listener
}

// New creates an empty MutationCache.
func New() *MutationCache {
	return &MutationCache{byID: make(map[string]*Mutation)}
}

// Subscribe registers a listener and returns an unsubscribe function.
func (c *MutationCache) Subscribe(l Listener) (unsubscribe func()) {
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

func (c *MutationCache) emit(ev Event) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(ev)
		}
	}
}

// future is a single-resolution promise, the same minimal shape as
// internal/fetch.Future, kept private here so MutationCache has no
// dependency on the query-fetch package.
type future struct {
	done  chan struct{}
	mu    sync.Mutex
	value any
	err   error
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) resolve(v any, err error) {
	f.mu.Lock()
	f.value, f.err = v, err
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the mutation settles.
func (f *future) Wait() (any, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Future is the handle returned by Execute.
type Future = *future

// Execute runs fn under opts' lifecycle hooks and retry policy, registering
// the Mutation with the cache for the duration of the call (spec.md §4.9).
// The cancellation signal passed to fn is independent per mutation, since
// mutations (unlike queries) are not deduplicated or superseded by key.
func (c *MutationCache) Execute(fn MutationFn, variables any, opts Options) (*Mutation, Future) {
	m := &Mutation{
		id:    uuid.NewString(),
		state: State{Status: StatusPending, Variables: variables, SubmittedAt: time.Now()},
	}

	c.mu.Lock()
	c.byID[m.id] = m
	c.mu.Unlock()
	c.emit(Event{Kind: EventAdded, Mutation: m})

	fut := newFuture()
	go c.run(m, fn, variables, opts, fut)
	return m, fut
}

func (c *MutationCache) run(m *Mutation, fn MutationFn, variables any, opts Options, fut *future) {
	var rollbackContext any
	if opts.OnMutate != nil {
		ctx, err := opts.OnMutate(variables)
		rollbackContext = ctx
		if err != nil {
			c.settleError(m, err, variables, rollbackContext, opts, fut)
			return
		}
	}

	signal := cancel.New()
	retryOpts := retry.Options{MaxRetries: opts.Retry, Delay: opts.RetryDelay}
	data, err := retry.Run(signal, retryOpts, func(s *cancel.Signal, attempt int) (any, error) {
		return fn(s, variables)
	})

	if err != nil {
		c.settleError(m, err, variables, rollbackContext, opts, fut)
		return
	}

	m.setState(State{Status: StatusSuccess, Variables: variables, Data: data, SubmittedAt: m.Snapshot().SubmittedAt})
	c.emit(Event{Kind: EventUpdated, Mutation: m})

	if opts.OnSuccess != nil {
		opts.OnSuccess(data, variables, rollbackContext)
	}
	if opts.OnSettled != nil {
		opts.OnSettled(data, nil, variables, rollbackContext)
	}
	fut.resolve(data, nil)
}

func (c *MutationCache) settleError(m *Mutation, err error, variables any, rollbackContext any, opts Options, fut *future) {
	m.setState(State{Status: StatusError, Variables: variables, Err: err, SubmittedAt: m.Snapshot().SubmittedAt})
	c.emit(Event{Kind: EventUpdated, Mutation: m})

	if opts.OnError != nil {
		opts.OnError(err, variables, rollbackContext)
	}
	if opts.OnSettled != nil {
		opts.OnSettled(nil, err, variables, rollbackContext)
	}
	fut.resolve(nil, err)
}

// Remove evicts a settled mutation from the cache (spec.md §4.9
// garbage-collection of finished mutations).
func (c *MutationCache) Remove(m *Mutation) {
	c.mu.Lock()
	if _, ok := c.byID[m.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byID, m.id)
	c.mu.Unlock()
	c.emit(Event{Kind: EventRemoved, Mutation: m})
}

// All returns every tracked Mutation.
func (c *MutationCache) All() []*Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]*Mutation, 0, len(c.byID))
	for _, m := range c.byID {
		all = append(all, m)
	}
	return all
}
