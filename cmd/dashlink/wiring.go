package main

import (
	"log/slog"
	"net/http"

	"github.com/rickgao/dashlink/internal/api"
	"github.com/rickgao/dashlink/internal/backoff"
	"github.com/rickgao/dashlink/internal/config"
	"github.com/rickgao/dashlink/internal/connection"
	"github.com/rickgao/dashlink/internal/host"
	"github.com/rickgao/dashlink/internal/journal"
	"github.com/rickgao/dashlink/internal/lifecycle"
	"github.com/rickgao/dashlink/internal/server"
	"github.com/rickgao/dashlink/internal/version"
)

func buildPolicy(cfg config.BackoffConfig) backoff.Policy {
	if cfg.Policy == config.PolicyBounded {
		b := backoff.NewBounded()
		b.Base = cfg.Base
		b.Max = cfg.Max
		b.MaxAttempts = cfg.MaxAttempts
		return b
	}
	p := backoff.NewPlateau()
	p.Base = cfg.Base
	p.Max = cfg.Max
	p.FastRetryThreshold = cfg.FastRetryThreshold
	return p
}

func connectionConfig(cfg *config.Config) connection.Config {
	return connection.Config{
		URL:               cfg.Backend.Endpoint(),
		ConnectTimeout:    cfg.Connection.ConnectTimeout,
		SettleDelay:       cfg.Connection.SettleDelay,
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		HealthInterval:    cfg.Health.Interval,
		HealthTimeout:     cfg.Health.Timeout,
		Channels:          cfg.Connection.Channels,
		LogBurst:          cfg.Backoff.LogBurst,
		LogInterval:       cfg.Backoff.LogInterval,
	}
}

func lifecycleConfig(cfg *config.Config) lifecycle.Config {
	return lifecycle.Config{
		WakeInterval:    cfg.Lifecycle.WakeInterval,
		WakeTolerance:   cfg.Lifecycle.WakeTolerance,
		NetworkInterval: cfg.Lifecycle.NetworkInterval,
		ShutdownTimeout: cfg.Lifecycle.ShutdownTimeout,
		CleanupTimeout:  cfg.Host.ForceCleanupTimeout,
	}
}

func hostConfig(cfg config.HostConfig) host.Config {
	hc := host.Config{Signals: true, CommandTimeout: cfg.ForceCleanupTimeout}
	if cfg.Enabled {
		hc.Dir = cfg.Dir
		hc.Command = cfg.ForceCleanupCommand
	}
	return hc
}

func journalConfig(cfg config.JournalConfig) journal.Config {
	return journal.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}
}

func serverConfig(cfg config.ServerConfig) server.Config {
	sc := server.DefaultConfig()
	sc.Addr = cfg.Addr
	sc.MetricsPath = cfg.MetricsPath
	return sc
}

func newAPIClient(cfg config.BackendConfig, clientID string, logger *slog.Logger) *api.Client {
	return api.NewClient(cfg.APIURL, cfg.AdminToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.MaxRetries, api.DefaultRetryBackoff),
		api.WithClientID(clientID),
		api.WithUserAgent(version.UserAgent(cfg.ClientName)),
	)
}

func dialHeader(cfg config.BackendConfig, clientID string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", version.UserAgent(cfg.ClientName))
	h.Set("X-Client-ID", clientID)
	return h
}
