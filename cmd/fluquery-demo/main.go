package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/peervault-labs/fluquery/internal/client"
	"github.com/peervault-labs/fluquery/internal/config"
	"github.com/peervault-labs/fluquery/internal/devtools"
	"github.com/peervault-labs/fluquery/internal/fetch"
	"github.com/peervault-labs/fluquery/internal/obslog"
	"github.com/peervault-labs/fluquery/internal/observer"
	"github.com/peervault-labs/fluquery/internal/persistence"
	"github.com/peervault-labs/fluquery/internal/persistence/filepersister"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML/JSON config file (optional)")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		iterations = flag.Int("iterations", 20, "Number of subscribe/refetch cycles to run")
	)
	flag.Parse()

	manager := config.NewManager(*configPath)
	if err := manager.Load(); err != nil {
		panic(err)
	}
	cfg := manager.Get()
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	obslog.Configure(cfg.Logging.Level)
	slog.Info("starting fluquery demo",
		"iterations", *iterations,
		"devtools_enabled", cfg.Devtools.Enabled,
		"persistence_enabled", cfg.Persistence.Enabled)

	coordinator := createDemoCoordinator(cfg)
	defer coordinator.Close()

	if cfg.Devtools.Enabled {
		startDevtools(coordinator, cfg.Devtools.ListenAddr)
	}

	runDemo(coordinator, *iterations, cfg)
}

func createDemoCoordinator(cfg *config.Config) *client.Coordinator {
	coordinator := client.New(client.Config{
		DefaultStaleTime: cfg.Defaults.StaleTime,
		DefaultGCTime:    cfg.Defaults.GCTime,
	})

	if cfg.Persistence.Enabled {
		persister := filepersister.New(cfg.Persistence.Path)
		coordinator.WithPersistence(persister, nil)
		if err := coordinator.Hydrate(); err != nil {
			slog.Warn("hydrate failed", "error", err)
		}
	}

	return coordinator
}

func startDevtools(coordinator *client.Coordinator, addr string) {
	hub := devtools.NewHub(obslog.Logger("devtools"))
	go hub.Run(context.Background())
	hub.AttachCache(coordinator.Cache)
	hub.AttachMutations(coordinator.Mutations)

	server := devtools.NewServer(coordinator.Cache, coordinator.Mutations, hub, obslog.Logger("devtools"))
	go func() {
		slog.Info("devtools server listening", "addr", addr)
		if err := http.ListenAndServe(addr, server.Router); err != nil {
			slog.Error("devtools server stopped", "error", err)
		}
	}()
}

func runDemo(coordinator *client.Coordinator, iterations int, cfg *config.Config) {
	var fetches int

	fn := func(ctx fetch.Context) (any, error) {
		fetches++
		slog.Debug("running query fn", "key", ctx.Key, "attempt", fetches)
		return map[string]any{"fetchedAt": time.Now().Format(time.RFC3339), "n": fetches}, nil
	}

	opts := observer.Options{
		StaleTime: 0,
		GCTime:    time.Minute,
	}
	if cfg.Persistence.Enabled {
		opts.Persist = &persistence.Options{MaxAge: cfg.Persistence.MaxAge, KeyPrefix: "demo"}
	}

	obs, err := coordinator.Subscribe(querykey.Key{"demo", "todos"}, fn, opts)
	if err != nil {
		slog.Error("subscribe failed", "error", err)
		return
	}
	defer obs.Close()

	unsubscribe := obs.Subscribe(func(result observer.Result) {
		slog.Info("observer result",
			"status", result.Status,
			"fetchStatus", result.FetchStatus,
			"isStale", result.IsStale)
	})
	defer unsubscribe()

	for i := 0; i < iterations; i++ {
		time.Sleep(100 * time.Millisecond)
		obs.Refetch()
	}

	if coordinator.Persistence != nil {
		entries, err := coordinator.Dehydrate()
		if err != nil {
			slog.Error("dehydrate failed", "error", err)
		} else {
			slog.Info("dehydrated persistable queries", "count", len(entries))
		}
	}

	result := obs.GetCurrentResult()
	fmt.Printf("demo completed: status=%s data=%v\n", result.Status, result.Data)
}
