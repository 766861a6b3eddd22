package observer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peervault-labs/fluquery/internal/cancel"
	"github.com/peervault-labs/fluquery/internal/fetch"
	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
	"github.com/peervault-labs/fluquery/internal/retry"
)

// ErrNoMorePages is returned by FetchNextPage/FetchPreviousPage when the
// corresponding GetNextPageParam/GetPreviousPageParam reports no further
// page (spec.md §4.8).
var ErrNoMorePages = errors.New("observer: no more pages in that direction")

// Data is the page-composed value an InfiniteObserver stores on its Query,
// per spec.md §4.8's InfiniteData shape.
type Data struct {
	Pages      []any
	PageParams []any
}

// GetNextPageParam derives the param for the page following lastPage, or
// reports false if there is none. lastParam/allParams give the param that
// produced lastPage and the full param history, which offset/cursor-based
// pagination needs in addition to the page content itself (spec.md §4.8).
type GetNextPageParam func(lastPage any, allPages []any, lastParam any, allParams []any) (param any, ok bool)

// GetPreviousPageParam derives the param for the page preceding firstPage.
type GetPreviousPageParam func(firstPage any, allPages []any, firstParam any, allParams []any) (param any, ok bool)

// InfiniteOptions extends Options with the page-param derivation functions
// and the initial page param (spec.md §4.8).
type InfiniteOptions struct {
	Options
	InitialPageParam     any
	GetNextPageParam     GetNextPageParam
	GetPreviousPageParam GetPreviousPageParam
}

// InfiniteObserver composes an ordered list of pages fetched one PageParam
// at a time, grounded on the same Query aggregate and single-flight
// discipline as Observer, generalized to append/prepend instead of replace
// (spec.md §4.8).
type InfiniteObserver struct {
	cache *querycache.Cache
	q     *query.Query
	id    query.ObserverID
	fn    fetch.QueryFn
	opts  InfiniteOptions

	mu sync.Mutex

	listeners []Listener
	last      Result

	unsubscribeCache func()
	closed           bool
}

// NewInfinite builds (or attaches to) the Query for key and performs the
// initial page fetch if the query has no data yet.
func NewInfinite(cache *querycache.Cache, key querykey.Key, fn fetch.QueryFn, opts InfiniteOptions) (*InfiniteObserver, error) {
	q, _, err := cache.Build(key)
	if err != nil {
		return nil, err
	}

	obs := &InfiniteObserver{
		cache: cache,
		q:     q,
		id:    query.ObserverID(uuid.NewString()),
		fn:    fn,
		opts:  opts,
	}

	q.AttachObserver(obs.id, opts.Options.toQueryOptions())
	cache.NotifyObserverAdded(q)

	obs.unsubscribeCache = cache.Subscribe(func(ev querycache.Event) {
		if ev.Query.Hash() == q.Hash() && ev.Kind == querycache.EventUpdated {
			obs.deliver()
		}
	})

	obs.deliver()

	if !q.Snapshot().HasData && !opts.Options.Disabled {
		obs.fetchPage(opts.InitialPageParam, appendPage)
	}

	return obs, nil
}

func (o *InfiniteObserver) Subscribe(l Listener) (unsubscribe func()) {
	o.listeners = append(o.listeners, l)
	idx := len(o.listeners) - 1
	l(o.last)
	return func() {
		if idx < len(o.listeners) {
			o.listeners[idx] = nil
		}
	}
}

func (o *InfiniteObserver) GetCurrentResult() Result { return o.last }

func (o *InfiniteObserver) deliver() {
	snap := o.q.Snapshot()
	result := Result{
		Status:         snap.Status,
		FetchStatus:    snap.FetchStatus,
		Error:          snap.Err,
		DataUpdatedAt:  snap.DataUpdatedAt,
		ErrorUpdatedAt: snap.ErrorUpdatedAt,
		FailureCount:   snap.FetchFailureCount,
		IsStale:        snap.IsStale(time.Now(), o.q.StaleTime()),
	}
	if snap.HasData {
		result.Data = snap.Data
	}
	o.last = result
	for _, l := range o.listeners {
		if l != nil {
			l(result)
		}
	}
}

type pageJoin func(current Data, page any, param any) Data

func appendPage(current Data, page any, param any) Data {
	return Data{
		Pages:      append(append([]any{}, current.Pages...), page),
		PageParams: append(append([]any{}, current.PageParams...), param),
	}
}

func prependPage(current Data, page any, param any) Data {
	return Data{
		Pages:      append([]any{page}, current.Pages...),
		PageParams: append([]any{param}, current.PageParams...),
	}
}

// fetchPage runs one page fetch under the Query's single-flight/retry
// discipline, directly (not via fetch.Coordinator, since a page fetch joins
// into the existing Data rather than replacing it wholesale).
func (o *InfiniteObserver) fetchPage(param any, join pageJoin) error {
	signal, started := o.q.BeginFetch()
	if !started {
		return nil
	}

	retryCfg, _ := o.q.RetryConfig()
	page, err := retry.Run(signal, retry.Options{
		MaxRetries: retryCfg.Retry,
		Delay:      retryCfg.RetryDelay,
	}, func(s *cancel.Signal, attempt int) (any, error) {
		return o.fn(fetch.Context{Key: o.q.Key(), Signal: s, PageParam: param, Meta: o.opts.Meta})
	})

	now := time.Now()
	var cancelled *cancel.CancelledError
	if errors.As(err, &cancelled) {
		o.q.CompleteCancelled(0)
		return err
	}
	if err != nil {
		if o.q.CompleteError(0, err, now, 1) {
			o.cache.NotifyUpdated(o.q)
		}
		return err
	}

	current, _ := o.q.Snapshot().Data.(Data)
	next := join(current, page, param)
	if o.q.CompleteSuccess(0, next, now) {
		o.cache.NotifyUpdated(o.q)
	}
	return nil
}

// FetchNextPage fetches the page following the current last page, joining
// it onto the end of Data.Pages (spec.md §4.8 fetchNextPage).
func (o *InfiniteObserver) FetchNextPage() error {
	data, _ := o.q.Snapshot().Data.(Data)
	if o.opts.GetNextPageParam == nil || len(data.Pages) == 0 {
		return ErrNoMorePages
	}
	lastIdx := len(data.Pages) - 1
	param, ok := o.opts.GetNextPageParam(data.Pages[lastIdx], data.Pages, data.PageParams[lastIdx], data.PageParams)
	if !ok {
		return ErrNoMorePages
	}
	return o.fetchPage(param, appendPage)
}

// FetchPreviousPage fetches the page preceding the current first page.
func (o *InfiniteObserver) FetchPreviousPage() error {
	data, _ := o.q.Snapshot().Data.(Data)
	if o.opts.GetPreviousPageParam == nil || len(data.Pages) == 0 {
		return ErrNoMorePages
	}
	param, ok := o.opts.GetPreviousPageParam(data.Pages[0], data.Pages, data.PageParams[0], data.PageParams)
	if !ok {
		return ErrNoMorePages
	}
	return o.fetchPage(param, prependPage)
}

// HasNextPage reports whether GetNextPageParam currently yields another
// page.
func (o *InfiniteObserver) HasNextPage() bool {
	data, _ := o.q.Snapshot().Data.(Data)
	if o.opts.GetNextPageParam == nil || len(data.Pages) == 0 {
		return false
	}
	lastIdx := len(data.Pages) - 1
	_, ok := o.opts.GetNextPageParam(data.Pages[lastIdx], data.Pages, data.PageParams[lastIdx], data.PageParams)
	return ok
}

// HasPreviousPage reports whether GetPreviousPageParam currently yields
// another page.
func (o *InfiniteObserver) HasPreviousPage() bool {
	data, _ := o.q.Snapshot().Data.(Data)
	if o.opts.GetPreviousPageParam == nil || len(data.Pages) == 0 {
		return false
	}
	_, ok := o.opts.GetPreviousPageParam(data.Pages[0], data.Pages, data.PageParams[0], data.PageParams)
	return ok
}

// Close detaches this observer from its Query.
func (o *InfiniteObserver) Close() {
	if o.closed {
		return
	}
	o.closed = true
	if o.unsubscribeCache != nil {
		o.unsubscribeCache()
	}
	o.q.DetachObserver(o.id)
	o.cache.NotifyObserverRemoved(o.q)
}
