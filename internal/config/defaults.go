package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultAPIURL              = "http://localhost:8000"
	DefaultClientName          = "dashlink"
	DefaultAPITimeout          = 5 * time.Second
	DefaultMaxRetries          = 1
	DefaultConnectTimeout      = 10 * time.Second
	DefaultSettleDelay         = 100 * time.Millisecond
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultBackoffPolicy       = PolicyPlateau
	DefaultBackoffBase         = 1 * time.Second
	DefaultBackoffMax          = 30 * time.Second
	DefaultFastRetryThreshold  = 5
	DefaultMaxAttempts         = 10
	DefaultLogBurst            = 10
	DefaultLogInterval         = 5 * time.Minute
	DefaultHealthInterval      = 15 * time.Second
	DefaultHealthTimeout       = 3 * time.Second
	DefaultWakeInterval        = 5 * time.Second
	DefaultWakeTolerance       = 10 * time.Second
	DefaultNetworkInterval     = 5 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultForceCleanupTimeout = 3 * time.Second
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 10000
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// DefaultChannels are the logical channels subscribed after every open.
var DefaultChannels = []string{"portfolio", "orders", "news"}

// ApplyDefaults fills unset fields with default values.
func (c *Config) ApplyDefaults() {
	// Backend defaults
	if c.Backend.APIURL == "" {
		c.Backend.APIURL = DefaultAPIURL
	}
	c.Backend.APIURL = strings.TrimRight(c.Backend.APIURL, "/")
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = deriveWSURL(c.Backend.APIURL)
	}
	c.Backend.WSURL = strings.TrimRight(c.Backend.WSURL, "/")
	if c.Backend.ClientName == "" {
		c.Backend.ClientName = DefaultClientName
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultAPITimeout
	}
	if c.Backend.MaxRetries == 0 {
		c.Backend.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.SettleDelay == 0 {
		c.Connection.SettleDelay = DefaultSettleDelay
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if len(c.Connection.Channels) == 0 {
		c.Connection.Channels = append([]string(nil), DefaultChannels...)
	}

	// Backoff defaults
	if c.Backoff.Policy == "" {
		c.Backoff.Policy = DefaultBackoffPolicy
	}
	if c.Backoff.Base == 0 {
		c.Backoff.Base = DefaultBackoffBase
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = DefaultBackoffMax
	}
	if c.Backoff.FastRetryThreshold == 0 {
		c.Backoff.FastRetryThreshold = DefaultFastRetryThreshold
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff.LogBurst == 0 {
		c.Backoff.LogBurst = DefaultLogBurst
	}
	if c.Backoff.LogInterval == 0 {
		c.Backoff.LogInterval = DefaultLogInterval
	}

	// Health probe defaults
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}

	// Lifecycle defaults
	if c.Lifecycle.WakeInterval == 0 {
		c.Lifecycle.WakeInterval = DefaultWakeInterval
	}
	if c.Lifecycle.WakeTolerance == 0 {
		c.Lifecycle.WakeTolerance = DefaultWakeTolerance
	}
	if c.Lifecycle.NetworkInterval == 0 {
		c.Lifecycle.NetworkInterval = DefaultNetworkInterval
	}
	if c.Lifecycle.ShutdownTimeout == 0 {
		c.Lifecycle.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Host defaults
	if c.Host.ForceCleanupTimeout == 0 {
		c.Host.ForceCleanupTimeout = DefaultForceCleanupTimeout
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Server defaults
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// deriveWSURL maps an http(s) API base onto the matching ws(s) base.
func deriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}

// Endpoint returns the full real-time endpoint URL.
func (b BackendConfig) Endpoint() string {
	return b.WSURL + "/ws"
}
