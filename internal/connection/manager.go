package connection

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/dashlink/internal/backoff"
	"github.com/rickgao/dashlink/internal/bus"
	"github.com/rickgao/dashlink/internal/eventloop"
	"github.com/rickgao/dashlink/internal/metrics"
)

// Scheduler runs callbacks on the goroutine that owns the Manager.
// *eventloop.Loop implements it.
type Scheduler interface {
	Poster
	AfterFunc(d time.Duration, fn func()) eventloop.Timer
}

// Publisher receives inbound payloads and status changes.
type Publisher interface {
	Publish(ev bus.Event) int
}

type discardPublisher struct{}

func (discardPublisher) Publish(bus.Event) int { return 0 }

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the reconnect policy. Default is backoff.NewPlateau().
func WithPolicy(p backoff.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithHealthChecker enables the health probe while disconnected.
func WithHealthChecker(c HealthChecker) Option {
	return func(m *Manager) {
		m.checker = c
	}
}

// WithPublisher sets where inbound payloads and status changes go.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.pub = p
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the single logical connection to the backend.
//
// Methods other than Snapshot and Status must run on the Scheduler's
// goroutine.
type Manager struct {
	cfg     Config
	sched   Scheduler
	dialer  Dialer
	policy  backoff.Policy
	checker HealthChecker
	pub     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// Reconnect log lines; retries themselves are never throttled.
	attemptLog *rate.Sometimes

	state          State
	socket         Socket
	gen            uint64 // identifies the current socket
	closeRequested bool   // Close was called on the current socket by us

	connectTimer   eventloop.Timer
	settleTimer    eventloop.Timer
	heartbeatTimer eventloop.Timer
	reconnectTimer eventloop.Timer
	probe          *healthProbe

	snapshot   atomic.Pointer[State]
	lastStatus Status
}

// NewManager creates a Manager. Zero durations in cfg take defaults.
func NewManager(cfg Config, sched Scheduler, dialer Dialer, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.Channels == nil {
		cfg.Channels = def.Channels
	}
	if cfg.LogBurst <= 0 {
		cfg.LogBurst = def.LogBurst
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = def.LogInterval
	}

	m := &Manager{
		cfg:    cfg,
		sched:  sched,
		dialer: dialer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy == nil {
		m.policy = backoff.NewPlateau()
	}
	if m.pub == nil {
		m.pub = discardPublisher{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "connection")
	m.attemptLog = m.newAttemptLog()
	m.probe = newHealthProbe(sched, m.checker, cfg.HealthInterval, cfg.HealthTimeout, m.onHealthy, m.metrics, m.logger)

	m.lastStatus = StatusDisconnected
	m.publishState()
	return m
}

// Connect replaces the current socket with a fresh connection attempt.
// No-op once unmounting or after the policy has given up.
func (m *Manager) Connect() {
	if m.state.Unmounting {
		return
	}
	if m.state.Phase == PhaseFailed {
		m.logger.Debug("connect ignored, link failed")
		return
	}

	m.releaseSocket()
	m.stopHeartbeat()
	stopTimer(&m.connectTimer)
	stopTimer(&m.settleTimer)
	stopTimer(&m.reconnectTimer)

	m.gen++
	gen := m.gen
	m.closeRequested = false
	m.state.Phase = PhaseConnecting
	m.state.Dials++
	m.metrics.ConnectAttempt()

	sock, err := m.dialer.Dial(m.cfg.URL, m.handlers(gen))
	if err != nil {
		m.logger.Error("failed to create socket", "url", m.cfg.URL, "error", err)
		m.handleClose(gen, CloseAbnormal, err.Error())
		return
	}
	m.socket = sock
	m.connectTimer = m.sched.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.onConnectTimeout(gen)
	})

	m.logger.Debug("connecting", "url", m.cfg.URL, "attempt", m.state.ReconnectAttempt)
	m.publishState()
}

// ReconnectNow resets the attempt counter and connects immediately
// unless the socket is already open. Returns whether a connect started.
func (m *Manager) ReconnectNow(reason string) bool {
	if m.state.Unmounting || m.state.Phase == PhaseFailed {
		return false
	}
	if m.socket != nil && m.socket.ReadyState() == StateOpen {
		return false
	}

	m.logger.Info("reconnecting now", "reason", reason)
	m.state.ReconnectAttempt = 0
	m.metrics.AttemptReset()
	stopTimer(&m.reconnectTimer)
	m.Connect()
	return true
}

// BeginUnmount sets the one-way unmounting latch. Afterwards Connect is
// a no-op and no reconnect or probe is scheduled.
func (m *Manager) BeginUnmount() {
	if m.state.Unmounting {
		return
	}
	m.state.Unmounting = true
	m.probe.Stop()
	m.publishState()
}

// MarkCleanup sets the cleanup latch. Returns false if it was already set.
func (m *Manager) MarkCleanup() bool {
	if m.state.CleanupPerformed {
		return false
	}
	m.state.CleanupPerformed = true
	m.publishState()
	return true
}

// SendCleanup notifies the backend that this client is going away.
func (m *Manager) SendCleanup() error {
	return m.send(TypeCleanup, CleanupMsg{Type: TypeCleanup})
}

// CloseClean closes the current socket with the normal code if it is
// connecting or open. The resulting close does not reconnect.
func (m *Manager) CloseClean(reason string) bool {
	if m.socket == nil {
		return false
	}
	switch m.socket.ReadyState() {
	case StateConnecting, StateOpen:
	default:
		return false
	}

	m.closeRequested = true
	if err := m.socket.Close(CloseNormal, reason); err != nil {
		m.logger.Debug("close failed", "error", err)
	}
	m.publishState()
	return true
}

// CancelTimers stops every live timer including the health probe.
func (m *Manager) CancelTimers() {
	stopTimer(&m.connectTimer)
	stopTimer(&m.settleTimer)
	stopTimer(&m.reconnectTimer)
	m.stopHeartbeat()
	m.probe.Stop()
	m.publishState()
}

// SocketOpen reports whether the current socket is open.
func (m *Manager) SocketOpen() bool {
	return m.socket != nil && m.socket.ReadyState() == StateOpen
}

// Snapshot returns the state as of the last transition. Safe for
// concurrent use.
func (m *Manager) Snapshot() State {
	return *m.snapshot.Load()
}

// Status returns the public connectivity status. Safe for concurrent use.
func (m *Manager) Status() Status {
	return m.snapshot.Load().Status
}

func (m *Manager) handlers(gen uint64) Handlers {
	return Handlers{
		OnOpen: func() {
			m.handleOpen(gen)
		},
		OnClose: func(code int, reason string) {
			m.handleClose(gen, code, reason)
		},
		OnError: func(err error) {
			m.handleError(gen, err)
		},
		OnMessage: func(data []byte) {
			m.handleMessage(gen, data)
		},
	}
}

// releaseSocket detaches the current socket before closing it so its
// close event cannot re-enter reconnect logic.
func (m *Manager) releaseSocket() {
	if m.socket == nil {
		return
	}
	sock := m.socket
	m.socket = nil
	sock.Detach()

	switch sock.ReadyState() {
	case StateConnecting, StateOpen:
		if err := sock.Close(CloseNormal, "replaced"); err != nil {
			m.logger.Debug("close superseded socket", "error", err)
		}
	}
}

func (m *Manager) handleOpen(gen uint64) {
	if gen != m.gen || m.socket == nil {
		return
	}
	stopTimer(&m.connectTimer)

	if m.state.Unmounting {
		m.CloseClean("unmounting")
		return
	}

	stopTimer(&m.reconnectTimer)
	m.state.Phase = PhaseConnected
	m.state.ReconnectAttempt = 0
	m.state.LastCloseWasClean = false
	m.state.ConnectedAt = m.now()
	m.state.Opens++
	m.attemptLog = m.newAttemptLog()
	m.probe.Stop()
	m.metrics.Opened()

	m.logger.Info("connected", "url", m.cfg.URL)

	// Some backends drop frames sent in the same tick as open.
	m.settleTimer = m.sched.AfterFunc(m.cfg.SettleDelay, func() {
		m.subscribe(gen)
	})
	m.startHeartbeat(gen)
	m.publishState()
}

func (m *Manager) subscribe(gen uint64) {
	m.settleTimer = nil
	if gen != m.gen || !m.SocketOpen() {
		return
	}
	for _, ch := range m.cfg.Channels {
		if err := m.send(TypeSubscribe, SubscribeMsg{Type: TypeSubscribe, Channel: ch}); err != nil {
			m.logger.Warn("subscribe failed", "channel", ch, "error", err)
		}
	}
	m.logger.Debug("subscribed", "channels", m.cfg.Channels)
}

func (m *Manager) handleClose(gen uint64, code int, reason string) {
	if gen != m.gen {
		return
	}
	stopTimer(&m.connectTimer)
	stopTimer(&m.settleTimer)
	m.stopHeartbeat()
	m.socket = nil

	clean := m.closeRequested && code == CloseNormal
	m.closeRequested = false
	m.state.Phase = PhaseDisconnected
	m.state.LastCloseWasClean = clean
	m.state.LastCloseCode = code
	m.state.LastCloseReason = reason
	m.state.ConnectedAt = time.Time{}
	m.metrics.Closed(clean)

	if m.state.Unmounting || clean {
		m.probe.Stop()
		m.logger.Info("connection closed", "code", code, "reason", reason, "clean", clean)
		m.publishState()
		return
	}

	m.scheduleReconnect(code, reason)
	m.publishState()
}

func (m *Manager) scheduleReconnect(code int, reason string) {
	delay, ok := m.policy.Delay(m.state.ReconnectAttempt)
	if !ok {
		stopTimer(&m.reconnectTimer)
		m.probe.Stop()
		m.state.Phase = PhaseFailed
		m.logger.Error("giving up reconnecting, restart required",
			"attempts", m.state.ReconnectAttempt,
			"code", code,
			"reason", reason,
		)
		return
	}

	m.state.ReconnectAttempt++
	attempt := m.state.ReconnectAttempt
	m.attemptLog.Do(func() {
		m.logger.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"code", code,
			"reason", reason,
		)
	})
	m.metrics.ReconnectScheduled(delay.Seconds(), attempt)

	m.probe.Start()
	stopTimer(&m.reconnectTimer)
	m.reconnectTimer = m.sched.AfterFunc(delay, m.onReconnectTimer)
}

func (m *Manager) onReconnectTimer() {
	m.reconnectTimer = nil
	if m.state.Unmounting {
		return
	}
	m.Connect()
}

func (m *Manager) onConnectTimeout(gen uint64) {
	m.connectTimer = nil
	if gen != m.gen || m.socket == nil || m.state.Phase != PhaseConnecting {
		return
	}
	m.logger.Warn("connect timed out", "url", m.cfg.URL, "timeout", m.cfg.ConnectTimeout)
	if err := m.socket.Close(CloseConnectTimeout, "connect timeout"); err != nil {
		m.logger.Debug("close timed out socket", "error", err)
	}
}

// handleError only logs; the close event that follows owns recovery.
func (m *Manager) handleError(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.logger.Debug("socket error", "error", err)
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	if gen != m.gen {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.metrics.Malformed()
		m.logger.Warn("dropping malformed message", "error", err, "size", len(data))
		return
	}
	m.metrics.MessageReceived(env.Type)

	switch env.Type {
	case TypePing:
		if err := m.send(TypePong, PingMsg{Type: TypePong, Timestamp: m.now().UnixMilli()}); err != nil {
			m.logger.Debug("pong failed", "error", err)
		}
		return
	case TypePong:
		return
	}

	m.pub.Publish(bus.Event{
		Kind:    bus.KindMessage,
		Type:    env.Type,
		Payload: json.RawMessage(data),
	})
}

func (m *Manager) onHealthy() {
	if m.state.Unmounting || m.state.Phase != PhaseDisconnected {
		return
	}
	m.logger.Info("backend reachable, reconnecting now", "skipped_attempt", m.state.ReconnectAttempt)
	m.state.ReconnectAttempt = 0
	m.metrics.AttemptReset()
	stopTimer(&m.reconnectTimer)
	m.probe.Stop()
	m.Connect()
}

func (m *Manager) send(msgType string, v any) error {
	if !m.SocketOpen() {
		m.metrics.MessageSent(msgType, ErrNotConnected)
		return ErrNotConnected
	}
	err := m.socket.Send(encode(v))
	m.metrics.MessageSent(msgType, err)
	return err
}

func (m *Manager) newAttemptLog() *rate.Sometimes {
	return &rate.Sometimes{First: m.cfg.LogBurst, Interval: m.cfg.LogInterval}
}

// publishState stores a fresh snapshot and announces status changes.
func (m *Manager) publishState() {
	snap := m.state
	snap.PhaseName = snap.Phase.String()
	snap.Status = snap.Phase.Status()
	snap.SocketState = StateClosed.String()
	if m.socket != nil {
		snap.SocketState = m.socket.ReadyState().String()
	}
	snap.Timers = m.liveTimers()
	m.snapshot.Store(&snap)

	m.metrics.SetPhase(snap.PhaseName)
	if snap.Status != m.lastStatus {
		m.lastStatus = snap.Status
		m.pub.Publish(bus.Event{Kind: bus.KindStatus, Status: string(snap.Status)})
	}
}

func (m *Manager) liveTimers() LiveTimers {
	return LiveTimers{
		ConnectTimeout: m.connectTimer != nil,
		Settle:         m.settleTimer != nil,
		Heartbeat:      m.heartbeatTimer != nil,
		HealthProbe:    m.probe.Running(),
		Reconnect:      m.reconnectTimer != nil,
	}
}

func stopTimer(t *eventloop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
