package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/dashlink/internal/bus"
	"github.com/rickgao/dashlink/internal/config"
	"github.com/rickgao/dashlink/internal/connection"
	"github.com/rickgao/dashlink/internal/database"
	"github.com/rickgao/dashlink/internal/eventloop"
	"github.com/rickgao/dashlink/internal/host"
	"github.com/rickgao/dashlink/internal/journal"
	"github.com/rickgao/dashlink/internal/lifecycle"
	"github.com/rickgao/dashlink/internal/metrics"
	"github.com/rickgao/dashlink/internal/server"
	"github.com/rickgao/dashlink/internal/version"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the backend and stay connected until closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	clientID := uuid.NewString()

	logger.Info("starting dashlink",
		"version", version.Version,
		"commit", version.Commit,
		"client_id", clientID,
		"endpoint", cfg.Backend.Endpoint(),
	)

	m := metrics.New()
	events := bus.New(logger)
	loop := eventloop.New(logger)
	if err := registerRuntimeGauges(m, loop, events); err != nil {
		return err
	}

	// The loop outlives the errgroup so teardown can still reach the manager.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	apiClient := newAPIClient(cfg.Backend, clientID, logger)
	dialer := connection.NewWSDialer(loop, dialHeader(cfg.Backend, clientID), logger)
	dialer.WriteTimeout = cfg.Connection.WriteTimeout

	mgr := connection.NewManager(connectionConfig(cfg), loop, dialer,
		connection.WithPolicy(buildPolicy(cfg.Backoff)),
		connection.WithHealthChecker(apiClient),
		connection.WithPublisher(events),
		connection.WithMetrics(m),
		connection.WithLogger(logger),
	)

	bridge, err := host.NewDesktop(hostConfig(cfg.Host), logger)
	if err != nil {
		return fmt.Errorf("start host bridge: %w", err)
	}
	defer bridge.Close()

	coordOpts := []lifecycle.Option{
		lifecycle.WithBridge(bridge),
		lifecycle.WithMetrics(m),
		lifecycle.WithLogger(logger),
	}
	if cfg.Backend.AdminToken != "" {
		coordOpts = append(coordOpts, lifecycle.WithBots(apiClient))
	} else {
		logger.Warn("no admin token configured, shutdown will not stop bots")
	}
	coord := lifecycle.New(lifecycleConfig(cfg), loop, mgr, coordOpts...)

	var srv *server.Server
	if cfg.Server.Addr != "" {
		srv = server.New(serverConfig(cfg.Server), mgr, events, m, logger)
	}

	if cfg.Journal.Enabled {
		stop, err := startJournal(ctx, cfg.Journal, events, srv, clientID, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	g.Go(func() error {
		return coord.Run(gctx)
	})

	loop.Post(mgr.Connect)

	err = g.Wait()
	switch {
	case errors.Is(err, lifecycle.ErrCloseRequested), errors.Is(err, lifecycle.ErrKillSwitch):
		logger.Info("dashlink stopped", "reason", err)
		return nil
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}

	logger.Info("dashlink stopped")
	return nil
}

// startJournal connects to the database and starts the event journal.
// The returned func stops it.
func startJournal(ctx context.Context, cfg config.JournalConfig, events *bus.Bus, srv *server.Server,
	sessionID string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	logger.Info("connecting to journal database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database, "dashlink")
	if err != nil {
		return nil, err
	}
	if srv != nil {
		srv.AddDependency("timescaledb", pool)
	}

	w := journal.NewWriter(journalConfig(cfg), journal.NewPGStore(pool), events.Subscribe(cfg.BufferSize), sessionID, m, logger)
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.Stop(stopCtx)
		pool.Close()
	}, nil
}

func registerRuntimeGauges(m *metrics.Metrics, loop *eventloop.Loop, events *bus.Bus) error {
	return m.Register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dashlink",
			Name:      "loop_pending_tasks",
			Help:      "Tasks queued on the event loop",
		}, func() float64 {
			return float64(loop.Stats().Pending)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "dashlink",
			Name:      "bus_dropped_events_total",
			Help:      "Events dropped because a subscriber was full",
		}, func() float64 {
			return float64(events.Stats().Dropped)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dashlink",
			Name:      "bus_subscribers",
			Help:      "Active bus subscribers",
		}, func() float64 {
			return float64(events.Stats().Subscribers)
		}),
	)
}
