package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrDialFailed    = errors.New("dial failed")
)

// Close codes used on the link.
const (
	CloseNormal         = 1000 // self-initiated shutdown or replace
	CloseAbnormal       = 1006 // closed without a close frame
	CloseConnectTimeout = 4008 // open did not complete in time
)

// Phase is the link lifecycle phase.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseFailed // bounded policy gave up; terminal
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the tri-state connectivity value shown to the application.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Status maps a phase onto the public tri-state status.
func (p Phase) Status() Status {
	switch p {
	case PhaseConnecting:
		return StatusConnecting
	case PhaseConnected:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// ReadyState mirrors the transport's socket state.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Message types on the wire.
const (
	TypeSubscribe = "subscribe"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeCleanup   = "cleanup"
)

// Envelope is the discriminator every inbound frame is parsed into.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SubscribeMsg requests one logical channel.
type SubscribeMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// PingMsg is used for both ping and pong frames.
type PingMsg struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// CleanupMsg tells the backend the client is shutting down.
type CleanupMsg struct {
	Type string `json:"type"`
}

func encode(v any) []byte {
	// All outbound types are plain structs of strings and ints.
	data, _ := json.Marshal(v)
	return data
}

// LiveTimers reports which timers are currently scheduled.
type LiveTimers struct {
	ConnectTimeout bool `json:"connect_timeout"`
	Settle         bool `json:"settle"`
	Heartbeat      bool `json:"heartbeat"`
	HealthProbe    bool `json:"health_probe"`
	Reconnect      bool `json:"reconnect"`
}

// State is a snapshot of the link's mutable record.
type State struct {
	Phase             Phase      `json:"-"`
	PhaseName         string     `json:"phase"`
	Status            Status     `json:"status"`
	SocketState       string     `json:"socket_state"`
	ReconnectAttempt  int        `json:"reconnect_attempt"`
	LastCloseWasClean bool       `json:"last_close_was_clean"`
	LastCloseCode     int        `json:"last_close_code,omitempty"`
	LastCloseReason   string     `json:"last_close_reason,omitempty"`
	Unmounting        bool       `json:"unmounting"`
	CleanupPerformed  bool       `json:"cleanup_performed"`
	Timers            LiveTimers `json:"timers"`
	ConnectedAt       time.Time  `json:"connected_at,omitzero"`
	Opens             int64      `json:"opens"`
	Dials             int64      `json:"dials"`
}

// Config configures a Manager.
type Config struct {
	URL               string        // full real-time endpoint, e.g. ws://localhost:8000/ws
	ConnectTimeout    time.Duration // force-close an attempt still connecting after this long
	SettleDelay       time.Duration // wait after open before subscribing
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
	Channels          []string
	LogBurst          int           // reconnect attempts logged before throttling
	LogInterval       time.Duration // throttled reconnect log interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		SettleDelay:       100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		HealthInterval:    15 * time.Second,
		HealthTimeout:     3 * time.Second,
		Channels:          []string{"portfolio", "orders", "news"},
		LogBurst:          10,
		LogInterval:       5 * time.Minute,
	}
}
