package query

import (
	"sync"
	"time"

	"github.com/peervault-labs/fluquery/internal/cancel"
	"github.com/peervault-labs/fluquery/internal/querykey"
	"github.com/peervault-labs/fluquery/internal/retry"
)

// ObserverID identifies one Observer's registration with a Query, for the
// purposes of observer accounting and option reduction (spec.md §4.4, §4.7).
type ObserverID string

// ObserverOptions is the subset of an Observer's configuration that affects
// the Query's own staleTime/gcTime/retry reduction (spec.md §3, §4.7).
type ObserverOptions struct {
	StaleTime   time.Duration
	GCTime      time.Duration
	Retry       int
	RetryDelay  retry.DelayFunc
}

// Remover is implemented by the owning cache; a Query calls it when its GC
// timer fires with zero observers (spec.md §4.4 "GC").
type Remover interface {
	RemoveByHash(hash querykey.Hash)
}

// PersistRegistration is the first-observer-wins persistence configuration
// attached to a Query (spec.md §4.11). The concrete option payload is owned
// by the persistence package; Query only tracks the registration count.
type PersistRegistration struct {
	Options any // persistence.Options, kept as any to avoid an import cycle
	Count   int
}

// Query is the mutable per-key aggregate: identity, current state, observer
// set, in-flight fetch bookkeeping, and GC timer.
type Query struct {
	mu sync.Mutex

	key  querykey.Key
	hash querykey.Hash

	state State

	observers map[ObserverID]ObserverOptions
	// observerOrder preserves insertion order for first-observer-wins
	// retry-config reduction.
	observerOrder []ObserverID
	retryOwner    ObserverID
	retryConfig   ObserverOptions
	hasRetry      bool

	effectiveStaleTime time.Duration
	effectiveGCTime    time.Duration
	defaultStaleTime   time.Duration
	defaultGCTime      time.Duration

	currentSignal *cancel.Signal
	fetchEpoch    uint64

	gcTimer *time.Timer
	remover Remover

	persist *PersistRegistration
}

// Config supplies cache-wide defaults used when no observer is attached
// (e.g. for prefetch/setQueryData-created queries).
type Config struct {
	DefaultStaleTime time.Duration
	DefaultGCTime    time.Duration
}

// New creates a Query in its initial pending/idle state.
func New(key querykey.Key, hash querykey.Hash, cfg Config, remover Remover) *Query {
	return &Query{
		key:                key,
		hash:               hash,
		state:              State{Status: StatusPending, FetchStatus: FetchStatusIdle},
		observers:          make(map[ObserverID]ObserverOptions),
		defaultStaleTime:   cfg.DefaultStaleTime,
		defaultGCTime:      cfg.DefaultGCTime,
		effectiveStaleTime: cfg.DefaultStaleTime,
		effectiveGCTime:    cfg.DefaultGCTime,
		remover:            remover,
	}
}

func (q *Query) Key() querykey.Key   { return q.key }
func (q *Query) Hash() querykey.Hash { return q.hash }

// Snapshot returns an immutable copy of the current state.
func (q *Query) Snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// StaleTime returns the effective staleTime: the minimum across attached
// observers, or the cache default with none attached (spec.md §3).
func (q *Query) StaleTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectiveStaleTime
}

// GCTime returns the effective gcTime: the maximum across attached
// observers, or the cache default with none attached.
func (q *Query) GCTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectiveGCTime
}

// IsStale reports staleness at time now using the effective staleTime.
func (q *Query) IsStale(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.IsStale(now, q.effectiveStaleTime)
}

// ObserverCount returns the number of currently attached observers.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// RetryConfig returns the first-observer-wins retry configuration, or
// (ObserverOptions{}, false) if no observer has ever attached.
func (q *Query) RetryConfig() (ObserverOptions, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retryConfig, q.hasRetry
}

// AttachObserver registers an observer's reduction-relevant options,
// cancels any pending GC timer, and recomputes effective staleTime/gcTime.
// Returns true if this is the first observer (the Query transitions from
// inactive to active).
func (q *Query) AttachObserver(id ObserverID, opts ObserverOptions) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasEmpty := len(q.observers) == 0
	if wasEmpty && q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}

	q.observers[id] = opts
	q.observerOrder = append(q.observerOrder, id)
	if !q.hasRetry {
		q.hasRetry = true
		q.retryOwner = id
		q.retryConfig = opts
	}
	q.recomputeReductionLocked()
	return wasEmpty
}

// DetachObserver removes an observer. If the observer set becomes empty, it
// starts the GC timer for q.effectiveGCTime; on fire with still-zero
// observers, the Query cancels any in-flight fetch and asks remover to
// evict it. Returns true if the Query became inactive as a result.
func (q *Query) DetachObserver(id ObserverID) bool {
	q.mu.Lock()
	delete(q.observers, id)
	for i, oid := range q.observerOrder {
		if oid == id {
			q.observerOrder = append(q.observerOrder[:i], q.observerOrder[i+1:]...)
			break
		}
	}
	q.recomputeReductionLocked()
	becameEmpty := len(q.observers) == 0
	gcTime := q.effectiveGCTime
	remover := q.remover
	hash := q.hash
	if becameEmpty && q.gcTimer == nil {
		q.gcTimer = time.AfterFunc(gcTime, func() {
			q.handleGCFire(remover, hash)
		})
	}
	q.mu.Unlock()
	return becameEmpty
}

func (q *Query) handleGCFire(remover Remover, hash querykey.Hash) {
	q.mu.Lock()
	stillEmpty := len(q.observers) == 0
	var signal *cancel.Signal
	if stillEmpty {
		signal = q.currentSignal
		q.gcTimer = nil
	}
	q.mu.Unlock()

	if !stillEmpty {
		return
	}
	if signal != nil {
		signal.Cancel("query garbage collected")
	}
	if remover != nil {
		remover.RemoveByHash(hash)
	}
}

func (q *Query) recomputeReductionLocked() {
	if len(q.observers) == 0 {
		q.effectiveStaleTime = q.defaultStaleTime
		q.effectiveGCTime = q.defaultGCTime
		return
	}
	first := true
	var minStale, maxGC time.Duration
	for _, opts := range q.observers {
		if first {
			minStale, maxGC = opts.StaleTime, opts.GCTime
			first = false
			continue
		}
		if opts.StaleTime < minStale {
			minStale = opts.StaleTime
		}
		if opts.GCTime > maxGC {
			maxGC = opts.GCTime
		}
	}
	q.effectiveStaleTime = minStale
	q.effectiveGCTime = maxGC
}

// CancelGC stops a pending GC timer, used when a Query is forcibly removed
// (cache.Clear) or reattached before the timer fires.
func (q *Query) CancelGC() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}
}

// --- Fetch lifecycle -------------------------------------------------

// BeginFetch transitions to fetching and returns the cancellation signal
// that owns this fetch. If a fetch is already in flight, it returns the
// existing signal and started=false (single-flight, spec.md §4.6).
func (q *Query) BeginFetch() (signal *cancel.Signal, started bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.FetchStatus == FetchStatusFetching {
		return q.currentSignal, false
	}
	q.currentSignal = cancel.New()
	q.fetchEpoch++
	q.state.FetchStatus = FetchStatusFetching
	return q.currentSignal, true
}

// BeginForceFetch cancels any in-flight fetch and unconditionally starts a
// new one, returning the new signal and the fetch epoch the caller must
// present back to Complete*/Pause so stale goroutines can recognize they
// were superseded.
func (q *Query) BeginForceFetch() (signal *cancel.Signal, epoch uint64) {
	q.mu.Lock()
	old := q.currentSignal
	q.currentSignal = cancel.New()
	q.fetchEpoch++
	q.state.FetchStatus = FetchStatusFetching
	epoch = q.fetchEpoch
	signal = q.currentSignal
	q.mu.Unlock()

	if old != nil {
		old.Cancel("superseded by forceRefetch")
	}
	return signal, epoch
}

// Epoch returns the current fetch epoch, used by a running fetch goroutine
// to detect it has been superseded even if its own signal wasn't the one
// cancelled (defensive; BeginForceFetch already cancels the old signal).
func (q *Query) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetchEpoch
}

// CompleteSuccess stores data as the new successful result, clears failure
// bookkeeping, and marks fetchStatus idle (spec.md §4.4, §4.6).
func (q *Query) CompleteSuccess(epoch uint64, data any, now time.Time) (changed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != 0 && epoch != q.fetchEpoch {
		return false
	}
	q.state.Status = StatusSuccess
	q.state.Data = data
	q.state.HasData = true
	q.state.DataUpdatedAt = now
	q.state.Err = nil
	q.state.FetchFailureCount = 0
	q.state.FetchFailureReason = nil
	q.state.IsInvalidated = false
	q.state.FetchStatus = FetchStatusIdle
	q.currentSignal = nil
	return true
}

// CompleteError stores the terminal error, records failure bookkeeping, and
// marks fetchStatus idle.
func (q *Query) CompleteError(epoch uint64, err error, now time.Time, failureCount int) (changed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != 0 && epoch != q.fetchEpoch {
		return false
	}
	q.state.Status = StatusError
	q.state.Err = err
	q.state.ErrorUpdatedAt = now
	q.state.FetchFailureCount = failureCount
	q.state.FetchFailureReason = err
	q.state.FetchStatus = FetchStatusIdle
	q.currentSignal = nil
	return true
}

// CompleteCancelled restores fetchStatus to idle without mutating data or
// error, per spec.md §4.4/§5 cancellation-safety invariant.
func (q *Query) CompleteCancelled(epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != 0 && epoch != q.fetchEpoch {
		return
	}
	q.state.FetchStatus = FetchStatusIdle
	q.currentSignal = nil
}

// Pause transitions fetchStatus to paused (networkMode=online, offline).
func (q *Query) Pause(epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != 0 && epoch != q.fetchEpoch {
		return
	}
	q.state.FetchStatus = FetchStatusPaused
}

// CurrentSignal returns the signal for the fetch currently in flight, or
// nil if idle.
func (q *Query) CurrentSignal() *cancel.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentSignal
}

// --- Direct mutations (Coordinator-level operations) ------------------

// Invalidate sets isInvalidated=true and reports whether the Query has
// attached observers, so the caller can decide whether to trigger a forced
// refetch (spec.md §4.4 "Refetch on invalidation").
func (q *Query) Invalidate() (hasObservers bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.IsInvalidated = true
	return len(q.observers) > 0
}

// SetData applies updater to the previous data (value or function of
// previous data) and transitions to success, per spec.md §4.10
// setQueryData. It does not touch any in-flight fetch (per the chosen
// §9 open-question policy recorded in DESIGN.md: setQueryData does not
// cancel in-flight fetches).
func (q *Query) SetData(updater func(prev any, hasPrev bool) any, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := updater(q.state.Data, q.state.HasData)
	q.state.Status = StatusSuccess
	q.state.Data = next
	q.state.HasData = true
	q.state.DataUpdatedAt = now
	q.state.IsInvalidated = false
}

// SeedRaw installs hydrated-but-undeserialized data from the persistence
// layer (spec.md §4.11 hydrate step 3), without otherwise touching the
// fetch/observer machinery.
func (q *Query) SeedRaw(data any, updatedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Status = StatusSuccess
	q.state.Data = data
	q.state.HasData = true
	q.state.DataUpdatedAt = updatedAt
}

// Reset clears data/error and returns to pending/idle (spec.md §4.4).
func (q *Query) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = State{Status: StatusPending, FetchStatus: FetchStatusIdle}
}

// --- Persistence registration (first-observer-wins, spec.md §4.11) ----

// RegisterPersist attaches persistence options the first time it's called
// for this Query (first-observer-wins); subsequent calls only increment the
// registration count. Returns the effective (possibly earlier) options and
// the registration count after this call.
func (q *Query) RegisterPersist(opts any) (effective any, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.persist == nil {
		q.persist = &PersistRegistration{Options: opts, Count: 1}
	} else {
		q.persist.Count++
	}
	return q.persist.Options, q.persist.Count
}

// DeregisterPersist decrements the registration count. Options persist
// beyond zero so background persistence continues (spec.md §4.11).
func (q *Query) DeregisterPersist() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.persist != nil && q.persist.Count > 0 {
		q.persist.Count--
	}
}

// PersistOptions returns the effective persistence options, or nil if none
// registered.
func (q *Query) PersistOptions() any {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.persist == nil {
		return nil
	}
	return q.persist.Options
}
