package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault-labs/fluquery/internal/cancel"
	"github.com/peervault-labs/fluquery/internal/mutation"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

func TestTelemetry_TracksQueryLifecycleCounters(t *testing.T) {
	c := New(Config{DefaultGCTime: time.Minute})

	require.NoError(t, c.SetQueryData(querykey.Key{"a"}, func(prev any, hasPrev bool) any { return 1 }))
	require.NoError(t, c.SetQueryData(querykey.Key{"a"}, func(prev any, hasPrev bool) any { return 2 }))

	added, ok := c.Telemetry.Metrics.GetCounter("queries_added_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), added.Get())

	updated, ok := c.Telemetry.Metrics.GetCounter("queries_updated_total")
	require.True(t, ok)
	assert.Equal(t, int64(2), updated.Get())

	active, ok := c.Telemetry.Metrics.GetGauge("queries_active")
	require.True(t, ok)
	assert.Equal(t, int64(1), active.Get())

	c.Clear()
	removed, ok := c.Telemetry.Metrics.GetCounter("queries_removed_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), removed.Get())
}

func TestTelemetry_TracksMutationOutcomes(t *testing.T) {
	c := New(Config{DefaultGCTime: time.Minute})

	_, okFut := c.Mutate(func(signal *cancel.Signal, variables any) (any, error) {
		return variables, nil
	}, "ok", mutation.Options{})
	_, errFut := c.Mutate(func(signal *cancel.Signal, variables any) (any, error) {
		return nil, errors.New("boom")
	}, "bad", mutation.Options{})

	_, _ = okFut.Wait()
	_, _ = errFut.Wait()

	settled, ok := c.Telemetry.Metrics.GetCounter("mutations_settled_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), settled.Get())

	failed, ok := c.Telemetry.Metrics.GetCounter("mutations_failed_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), failed.Get())
}

func TestTelemetry_PersistenceHealthCheck(t *testing.T) {
	c := New(Config{DefaultGCTime: time.Minute})
	c.WithPersistence(fakePersister{}, nil)
	defer c.Close()

	result, err := c.Telemetry.Health.Check(context.Background(), "persistence")
	require.NoError(t, err)
	assert.Equal(t, "healthy", string(result.Status))
}

type fakePersister struct{}

func (fakePersister) Save(hash querykey.Hash, entry persistence.PersistedQuery) error { return nil }
func (fakePersister) Load(hash querykey.Hash) (persistence.PersistedQuery, error) {
	return persistence.PersistedQuery{}, persistence.ErrNotFound
}
func (fakePersister) Remove(hash querykey.Hash) error { return nil }
func (fakePersister) All() (map[querykey.Hash]persistence.PersistedQuery, error) {
	return map[querykey.Hash]persistence.PersistedQuery{}, nil
}
