package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault-labs/fluquery/internal/querykey"
)

type fakeRemover struct {
	removed chan querykey.Hash
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{removed: make(chan querykey.Hash, 1)}
}

func (f *fakeRemover) RemoveByHash(hash querykey.Hash) {
	f.removed <- hash
}

func newTestQuery(remover Remover) *Query {
	key := querykey.Key{"todos"}
	hash := querykey.MustHashOf(key)
	return New(key, hash, Config{DefaultStaleTime: 0, DefaultGCTime: 5 * time.Minute}, remover)
}

func TestQuery_InitialState(t *testing.T) {
	q := newTestQuery(nil)
	s := q.Snapshot()
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, FetchStatusIdle, s.FetchStatus)
	assert.False(t, s.HasData)
}

func TestQuery_FetchSuccessLifecycle(t *testing.T) {
	q := newTestQuery(nil)

	signal, started := q.BeginFetch()
	require.True(t, started)
	require.NotNil(t, signal)

	_, startedAgain := q.BeginFetch()
	assert.False(t, startedAgain, "single-flight: a second BeginFetch must not start a new fetch")

	now := time.Now()
	changed := q.CompleteSuccess(0, []int{1}, now)
	require.True(t, changed)

	s := q.Snapshot()
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, FetchStatusIdle, s.FetchStatus)
	assert.True(t, s.HasData)
	assert.Equal(t, now, s.DataUpdatedAt)
	assert.Equal(t, 0, s.FetchFailureCount)
}

func TestQuery_FetchErrorLifecycle(t *testing.T) {
	q := newTestQuery(nil)
	q.BeginFetch()

	err := assert.AnError
	changed := q.CompleteError(0, err, time.Now(), 2)
	require.True(t, changed)

	s := q.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.ErrorIs(t, s.Err, err)
	assert.Equal(t, 2, s.FetchFailureCount)
	assert.Equal(t, FetchStatusIdle, s.FetchStatus)
}

func TestQuery_CancelDoesNotMutateDataOrError(t *testing.T) {
	q := newTestQuery(nil)
	q.CompleteSuccess(0, "original", time.Now())

	q.BeginFetch()
	q.CompleteCancelled(0)

	s := q.Snapshot()
	assert.Equal(t, "original", s.Data)
	assert.Nil(t, s.Err)
	assert.Equal(t, FetchStatusIdle, s.FetchStatus)
}

func TestQuery_ForceFetchCancelsPrevious(t *testing.T) {
	q := newTestQuery(nil)
	signal1, _ := q.BeginFetch()

	signal2, epoch2 := q.BeginForceFetch()
	assert.True(t, signal1.IsCancelled())
	assert.False(t, signal2.IsCancelled())
	assert.NotEqual(t, signal1, signal2)

	// The stale fetch, if it resolves late, must be a no-op.
	changed := q.CompleteSuccess(epoch2-1, "discarded", time.Now())
	assert.False(t, changed)

	changed = q.CompleteSuccess(epoch2, "kept", time.Now())
	assert.True(t, changed)
	assert.Equal(t, "kept", q.Snapshot().Data)
}

func TestQuery_InvalidateMarksStale(t *testing.T) {
	q := newTestQuery(nil)
	q.CompleteSuccess(0, "v1", time.Now())
	hasObservers := q.Invalidate()
	assert.False(t, hasObservers)
	assert.True(t, q.Snapshot().IsInvalidated)
}

func TestQuery_SetQueryDataFunctionOfPrevious(t *testing.T) {
	q := newTestQuery(nil)
	q.SetData(func(prev any, hasPrev bool) any {
		assert.False(t, hasPrev)
		return []int{1}
	}, time.Now())
	q.SetData(func(prev any, hasPrev bool) any {
		require.True(t, hasPrev)
		return append(prev.([]int), 2)
	}, time.Now())

	assert.Equal(t, []int{1, 2}, q.Snapshot().Data)
}

func TestQuery_StaleTimeGCTimeReduction(t *testing.T) {
	q := newTestQuery(nil)
	q.AttachObserver("a", ObserverOptions{StaleTime: 10 * time.Second, GCTime: time.Minute})
	q.AttachObserver("b", ObserverOptions{StaleTime: 5 * time.Second, GCTime: 2 * time.Minute})

	assert.Equal(t, 5*time.Second, q.StaleTime(), "staleTime = min across observers")
	assert.Equal(t, 2*time.Minute, q.GCTime(), "gcTime = max across observers")
}

func TestQuery_RetryConfigFirstObserverWins(t *testing.T) {
	q := newTestQuery(nil)
	q.AttachObserver("first", ObserverOptions{Retry: 3})
	q.AttachObserver("second", ObserverOptions{Retry: 10})

	cfg, ok := q.RetryConfig()
	require.True(t, ok)
	assert.Equal(t, 3, cfg.Retry)
}

func TestQuery_GCFiresAfterLastDetach(t *testing.T) {
	remover := newFakeRemover()
	q := newTestQuery(remover)
	q.AttachObserver("a", ObserverOptions{GCTime: 20 * time.Millisecond})
	q.DetachObserver("a")

	select {
	case hash := <-remover.removed:
		assert.Equal(t, q.Hash(), hash)
	case <-time.After(time.Second):
		t.Fatal("GC did not fire")
	}
}

func TestQuery_AttachCancelsPendingGC(t *testing.T) {
	remover := newFakeRemover()
	q := newTestQuery(remover)
	q.AttachObserver("a", ObserverOptions{GCTime: 20 * time.Millisecond})
	q.DetachObserver("a")
	q.AttachObserver("b", ObserverOptions{GCTime: time.Minute})

	select {
	case <-remover.removed:
		t.Fatal("GC fired even though an observer re-attached")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQuery_PersistFirstObserverWins(t *testing.T) {
	q := newTestQuery(nil)
	effA, countA := q.RegisterPersist("optsA")
	assert.Equal(t, "optsA", effA)
	assert.Equal(t, 1, countA)

	effB, countB := q.RegisterPersist("optsB")
	assert.Equal(t, "optsA", effB, "first registration's options must win")
	assert.Equal(t, 2, countB)

	q.DeregisterPersist()
	assert.Equal(t, "optsA", q.PersistOptions(), "options persist past a count decrement")
}
