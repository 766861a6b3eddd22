package client

import (
	"context"
	"fmt"
	"time"

	"github.com/peervault-labs/fluquery/internal/health"
	"github.com/peervault-labs/fluquery/internal/metrics"
	"github.com/peervault-labs/fluquery/internal/mutation"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/querycache"
)

const healthCheckTimeout = 2 * time.Second

// Telemetry holds the counters a Coordinator maintains over its own cache
// and mutation event streams, plus the health checks exposed for an
// operator dashboard. Grounded on the teacher's internal/metrics and
// internal/health packages, wired here to query/mutation events instead of
// the teacher's storage/network ones.
type Telemetry struct {
	Metrics *metrics.MetricsRegistry
	Health  *health.HealthChecker

	queriesAdded     *metrics.Counter
	queriesUpdated   *metrics.Counter
	queriesRemoved   *metrics.Counter
	mutationsSettled *metrics.Counter
	mutationsFailed  *metrics.Counter
	activeQueries    *metrics.Gauge

	unsubscribeCache     func()
	unsubscribeMutations func()
}

// newTelemetry builds and wires a Telemetry instance to cache and mutations.
func newTelemetry(cache *querycache.Cache, mutations *mutation.MutationCache) *Telemetry {
	registry := metrics.NewMetricsRegistry()
	t := &Telemetry{
		Metrics:          registry,
		Health:           health.NewHealthChecker(),
		queriesAdded:     registry.RegisterCounter("queries_added_total", "queries created in the cache", nil),
		queriesUpdated:   registry.RegisterCounter("queries_updated_total", "query state transitions", nil),
		queriesRemoved:   registry.RegisterCounter("queries_removed_total", "queries evicted from the cache", nil),
		mutationsSettled: registry.RegisterCounter("mutations_settled_total", "mutations that reached success", nil),
		mutationsFailed:  registry.RegisterCounter("mutations_failed_total", "mutations that reached error", nil),
		activeQueries:    registry.RegisterGauge("queries_active", "queries currently indexed in the cache", nil),
	}

	t.unsubscribeCache = cache.Subscribe(func(ev querycache.Event) {
		switch ev.Kind {
		case querycache.EventAdded:
			t.queriesAdded.Inc()
			t.activeQueries.Inc()
		case querycache.EventUpdated:
			t.queriesUpdated.Inc()
		case querycache.EventRemoved:
			t.queriesRemoved.Inc()
			t.activeQueries.Dec()
		}
	})

	t.unsubscribeMutations = mutations.Subscribe(func(ev mutation.Event) {
		if ev.Kind != mutation.EventUpdated {
			return
		}
		switch ev.Mutation.Snapshot().Status {
		case mutation.StatusSuccess:
			t.mutationsSettled.Inc()
		case mutation.StatusError:
			t.mutationsFailed.Inc()
		}
	})

	return t
}

// RegisterPersistenceHealthCheck adds a health check that verifies the
// persister responds to All() within its timeout, surfaced through
// Coordinator.Telemetry.Health for an operator dashboard or the devtools
// server.
func (t *Telemetry) RegisterPersistenceHealthCheck(p persistence.Persister) {
	t.Health.RegisterCheck(health.NewSimpleHealthCheck(
		"persistence",
		"persister reachable",
		healthCheckTimeout,
		func(ctx context.Context) error {
			if _, err := p.All(); err != nil {
				return fmt.Errorf("persister unreachable: %w", err)
			}
			return nil
		},
	))
}

func (t *Telemetry) close() {
	if t.unsubscribeCache != nil {
		t.unsubscribeCache()
	}
	if t.unsubscribeMutations != nil {
		t.unsubscribeMutations()
	}
}
