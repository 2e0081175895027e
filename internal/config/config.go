package config

import "time"

// Config is the root configuration for a dashlink instance.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Connection ConnectionConfig `yaml:"connection"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Health     HealthConfig     `yaml:"health"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Host       HostConfig       `yaml:"host"`
	Journal    JournalConfig    `yaml:"journal"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// BackendConfig locates the dashboard backend.
type BackendConfig struct {
	APIURL     string        `yaml:"api_url"`     // REST base, e.g. http://localhost:8000
	WSURL      string        `yaml:"ws_url"`      // WebSocket base; /ws is appended. Derived from api_url when empty.
	AdminToken string        `yaml:"admin_token"` // Bearer token for admin-only bot routes
	ClientName string        `yaml:"client_name"` // Sent as User-Agent
	Timeout    time.Duration `yaml:"timeout"`     // REST timeout for control calls
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds real-time link settings.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	Channels          []string      `yaml:"channels"`
}

// Reconnect policy names.
const (
	PolicyPlateau = "plateau"
	PolicyBounded = "bounded"
)

// BackoffConfig selects and tunes the reconnect policy.
type BackoffConfig struct {
	Policy             string        `yaml:"policy"` // "plateau" or "bounded"
	Base               time.Duration `yaml:"base"`
	Max                time.Duration `yaml:"max"`
	FastRetryThreshold int           `yaml:"fast_retry_threshold"` // plateau only
	MaxAttempts        int           `yaml:"max_attempts"`         // bounded only
	LogBurst           int           `yaml:"log_burst"`            // attempts logged before throttling
	LogInterval        time.Duration `yaml:"log_interval"`         // throttled log interval
}

// HealthConfig tunes the out-of-band health probe.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LifecycleConfig tunes wake and network detection.
type LifecycleConfig struct {
	WakeInterval    time.Duration `yaml:"wake_interval"`
	WakeTolerance   time.Duration `yaml:"wake_tolerance"`
	NetworkInterval time.Duration `yaml:"network_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HostConfig describes the optional desktop host bridge.
type HostConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Dir                 string        `yaml:"dir"`                   // watched for a kill-switch sentinel file
	ForceCleanupCommand []string      `yaml:"force_cleanup_command"` // argv of the host's cleanup hook
	ForceCleanupTimeout time.Duration `yaml:"force_cleanup_timeout"`
}

// JournalConfig holds the optional TimescaleDB event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ServerConfig holds the local status server settings.
type ServerConfig struct {
	Addr        string `yaml:"addr"` // empty disables the server
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
