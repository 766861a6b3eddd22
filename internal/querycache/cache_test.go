package querycache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

func newTestCache() *Cache {
	return New(query.Config{DefaultStaleTime: 0, DefaultGCTime: time.Minute})
}

func TestCache_BuildReturnsSameQueryForSameKey(t *testing.T) {
	c := newTestCache()
	q1, created1, err := c.Build(querykey.Key{"todos"})
	require.NoError(t, err)
	assert.True(t, created1)

	q2, created2, err := c.Build(querykey.Key{"todos"})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, q1, q2)
}

func TestCache_BuildDifferentKeysDifferentQueries(t *testing.T) {
	c := newTestCache()
	q1, _, _ := c.Build(querykey.Key{"todos"})
	q2, _, _ := c.Build(querykey.Key{"users"})
	assert.NotSame(t, q1, q2)
	assert.Equal(t, 2, c.Len())
}

func TestCache_FindAllByKeyPrefix(t *testing.T) {
	c := newTestCache()
	c.Build(querykey.Key{"users", 1})
	c.Build(querykey.Key{"users", 2})
	c.Build(querykey.Key{"todos"})

	matches := c.FindAll(FindOptions{Key: querykey.Key{"users"}, Type: TypeAll})
	assert.Len(t, matches, 2)
}

func TestCache_FindAllActiveInactive(t *testing.T) {
	c := newTestCache()
	q1, _, _ := c.Build(querykey.Key{"a"})
	q2, _, _ := c.Build(querykey.Key{"b"})
	q1.AttachObserver("obs1", query.ObserverOptions{})

	active := c.FindAll(FindOptions{Type: TypeActive})
	require.Len(t, active, 1)
	assert.Same(t, q1, active[0])

	inactive := c.FindAll(FindOptions{Type: TypeInactive})
	require.Len(t, inactive, 1)
	assert.Same(t, q2, inactive[0])
}

func TestCache_EventsEmittedSynchronously(t *testing.T) {
	c := newTestCache()
	var events []EventKind
	c.Subscribe(func(e Event) {
		events = append(events, e.Kind)
	})

	q, _, _ := c.Build(querykey.Key{"x"})
	c.NotifyUpdated(q)
	c.Remove(q)

	assert.Equal(t, []EventKind{EventAdded, EventUpdated, EventRemoved}, events)
}

func TestCache_RemoveByHashViaGC(t *testing.T) {
	c := newTestCache()
	q, _, _ := c.Build(querykey.Key{"gc-me"})
	q.AttachObserver("o", query.ObserverOptions{GCTime: 10 * time.Millisecond})
	q.DetachObserver("o")

	require.Eventually(t, func() bool {
		_, ok := c.Get(querykey.Key{"gc-me"})
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache()
	c.Build(querykey.Key{"a"})
	c.Build(querykey.Key{"b"})
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
