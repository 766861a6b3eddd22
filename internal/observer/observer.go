// Package observer implements Observer: the per-subscription view onto a
// Query, responsible for select/placeholder/previousData derivation,
// mount-time and interval refetch scheduling, and delivering Result updates
// to its caller (spec.md §4.7). The listener fan-out follows the same
// snapshot-then-call idiom as internal/querycache and, at the texture level,
// the teacher's internal/websocket.Hub client registry.
package observer

import (
	"time"

	"github.com/google/uuid"

	"github.com/peervault-labs/fluquery/internal/fetch"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
	"github.com/peervault-labs/fluquery/internal/retry"
)

// RefetchOnMount controls whether attaching an observer triggers a fetch
// (spec.md §4.7, and the resolved open question on attaching to an error
// query: only refetches if ifStale and the query is in fact stale).
type RefetchOnMount string

const (
	RefetchOnMountAlways RefetchOnMount = "always"
	RefetchOnMountIfStale RefetchOnMount = "ifStale"
	RefetchOnMountNever   RefetchOnMount = "never"
)

// Options configures one Observer (spec.md §3 ObserverOptions, §4.7).
type Options struct {
	StaleTime       time.Duration
	GCTime          time.Duration
	Retry           int
	RetryDelay      retry.DelayFunc
	Disabled        bool
	RefetchOnMount  RefetchOnMount
	RefetchInterval time.Duration
	NetworkMode     fetch.NetworkMode
	Select          func(data any) any
	PlaceholderData any
	KeepPreviousData bool
	Meta            map[string]any

	// Persist, if non-nil, registers this key for write-through/hydrate
	// persistence with the Coordinator's persistence.Manager (spec.md
	// §4.11). The Coordinator is responsible for the actual registration;
	// Observer only carries the option through for Close-time deregistration.
	Persist *persistence.Options
}

func (o Options) toQueryOptions() query.ObserverOptions {
	return query.ObserverOptions{
		StaleTime:  o.StaleTime,
		GCTime:     o.GCTime,
		Retry:      o.Retry,
		RetryDelay: o.RetryDelay,
	}
}

// Result is the value delivered to an Observer's listeners, mirroring
// spec.md §4.7's derived observer result.
type Result struct {
	Status      query.Status
	FetchStatus query.FetchStatus

	Data  any
	Error error

	IsStale           bool
	IsPlaceholderData bool
	IsPreviousData    bool

	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time

	FailureCount int
}

// Listener receives Result updates. Like querycache.Listener, it runs
// synchronously inside the call that changed the underlying Query and must
// not block.
type Listener func(Result)

// Observer is one subscription onto a single Query.
type Observer struct {
	cache       *querycache.Cache
	coordinator *fetch.Coordinator
	q           *query.Query
	id          query.ObserverID
	fn          fetch.QueryFn

	opts Options

	listeners []Listener

	last        Result
	haveLast    bool

	unsubscribeCache func()
	intervalTimer    *time.Timer
	closed           bool
}

// New builds (or attaches to) the Query for key, registers this Observer's
// reduction options, and performs the initial mount-time fetch decision
// (spec.md §4.7).
func New(cache *querycache.Cache, coordinator *fetch.Coordinator, key querykey.Key, fn fetch.QueryFn, opts Options) (*Observer, error) {
	if opts.RefetchOnMount == "" {
		opts.RefetchOnMount = RefetchOnMountIfStale
	}

	q, _, err := cache.Build(key)
	if err != nil {
		return nil, err
	}

	obs := &Observer{
		cache:       cache,
		coordinator: coordinator,
		q:           q,
		id:          query.ObserverID(uuid.NewString()),
		fn:          fn,
		opts:        opts,
	}

	q.AttachObserver(obs.id, opts.toQueryOptions())
	cache.NotifyObserverAdded(q)

	obs.unsubscribeCache = cache.Subscribe(func(ev querycache.Event) {
		if ev.Query.Hash() != q.Hash() {
			return
		}
		switch ev.Kind {
		case querycache.EventUpdated:
			obs.deliver()
		}
	})

	obs.deliver()
	obs.maybeFetchOnMount()
	obs.scheduleInterval()

	return obs, nil
}

// Subscribe registers a Listener and immediately delivers the current
// Result, returning an unsubscribe function.
func (o *Observer) Subscribe(l Listener) (unsubscribe func()) {
	o.listeners = append(o.listeners, l)
	idx := len(o.listeners) - 1
	l(o.last)
	return func() {
		if idx < len(o.listeners) {
			o.listeners[idx] = nil
		}
	}
}

// GetCurrentResult returns the most recently delivered Result.
func (o *Observer) GetCurrentResult() Result {
	return o.last
}

// Query returns the underlying Query this Observer is attached to, letting a
// Coordinator register persistence options against it without threading a
// *persistence.Manager through New's signature.
func (o *Observer) Query() *query.Query {
	return o.q
}

func (o *Observer) maybeFetchOnMount() {
	if o.opts.Disabled {
		return
	}
	snap := o.q.Snapshot()
	switch o.opts.RefetchOnMount {
	case RefetchOnMountNever:
		if snap.HasData {
			return
		}
	case RefetchOnMountAlways:
		// always refetch, fall through
	default: // ifStale
		if !o.q.IsStale(time.Now()) {
			return
		}
	}
	o.triggerFetch(false)
}

func (o *Observer) triggerFetch(force bool) *fetch.Future {
	retryCfg, _ := o.q.RetryConfig()
	fetchOpts := fetch.Options{
		Retry:       retryCfg.Retry,
		RetryDelay:  retryCfg.RetryDelay,
		NetworkMode: o.opts.NetworkMode,
		Meta:        o.opts.Meta,
	}
	if force {
		return o.coordinator.Force(o.q, o.fn, fetchOpts)
	}
	return o.coordinator.Ensure(o.q, o.fn, fetchOpts)
}

// Refetch forces a new fetch regardless of staleness (spec.md §4.7
// "refetch"), returning the Future the caller may await.
func (o *Observer) Refetch() *fetch.Future {
	return o.triggerFetch(true)
}

func (o *Observer) scheduleInterval() {
	if o.opts.RefetchInterval <= 0 {
		return
	}
	o.intervalTimer = time.AfterFunc(o.opts.RefetchInterval, func() {
		if o.closed {
			return
		}
		o.triggerFetch(false)
		o.scheduleInterval()
	})
}

// deliver recomputes the Result from the Query's current snapshot and this
// Observer's select/placeholder/keepPreviousData options, then synchronously
// fans it out to all listeners (spec.md §5 ordering: an Observer's Result
// reflects the Query state as of the triggering cache event).
func (o *Observer) deliver() {
	snap := o.q.Snapshot()
	result := o.computeResult(snap)
	o.last = result
	o.haveLast = true

	for _, l := range o.listeners {
		if l != nil {
			l(result)
		}
	}
}

func (o *Observer) computeResult(snap query.State) Result {
	result := Result{
		Status:         snap.Status,
		FetchStatus:    snap.FetchStatus,
		Error:          snap.Err,
		DataUpdatedAt:  snap.DataUpdatedAt,
		ErrorUpdatedAt: snap.ErrorUpdatedAt,
		FailureCount:   snap.FetchFailureCount,
		IsStale:        snap.IsStale(time.Now(), o.q.StaleTime()),
	}

	switch {
	case snap.HasData:
		result.Data = o.applySelect(snap.Data)
	case o.opts.KeepPreviousData && o.haveLast && (o.last.Data != nil || o.last.IsPlaceholderData):
		result.Data = o.last.Data
		result.IsPreviousData = true
	case o.opts.PlaceholderData != nil:
		result.Data = o.applySelect(o.opts.PlaceholderData)
		result.IsPlaceholderData = true
	}

	return result
}

func (o *Observer) applySelect(data any) any {
	if o.opts.Select == nil {
		return data
	}
	return o.opts.Select(data)
}

// SetOptions updates this Observer's options, re-registers the reduction
// options with the Query, and re-derives the current Result (spec.md §4.7).
func (o *Observer) SetOptions(opts Options) {
	if opts.RefetchOnMount == "" {
		opts.RefetchOnMount = RefetchOnMountIfStale
	}
	o.opts = opts
	o.q.AttachObserver(o.id, opts.toQueryOptions())
	if o.intervalTimer != nil {
		o.intervalTimer.Stop()
		o.intervalTimer = nil
	}
	o.scheduleInterval()
	o.deliver()
}

// Close detaches this Observer from its Query (potentially starting GC),
// stops any refetch-interval timer, and unsubscribes from cache events
// (spec.md §4.7 unmount).
func (o *Observer) Close() {
	if o.closed {
		return
	}
	o.closed = true
	if o.intervalTimer != nil {
		o.intervalTimer.Stop()
	}
	if o.unsubscribeCache != nil {
		o.unsubscribeCache()
	}
	if o.opts.Persist != nil {
		o.q.DeregisterPersist()
	}
	o.q.DetachObserver(o.id)
	o.cache.NotifyObserverRemoved(o.q)
}
