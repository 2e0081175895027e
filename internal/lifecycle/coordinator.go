package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/dashlink/internal/api"
	"github.com/rickgao/dashlink/internal/host"
	"github.com/rickgao/dashlink/internal/metrics"
)

var (
	// ErrCloseRequested is returned by Run after a host close request.
	ErrCloseRequested = errors.New("host close requested")
	// ErrKillSwitch is returned by Run after the kill switch fired.
	ErrKillSwitch = errors.New("kill switch activated")
)

// Shutdown step names, used as the metrics step label.
const (
	StepCleanupMessage = "cleanup_message"
	StepStopAll        = "stop_all"
	StepClose          = "close"
	StepForceCleanup   = "force_cleanup"
)

// Link is the subset of *connection.Manager the coordinator drives. Its
// methods are only called through the Runner.
type Link interface {
	ReconnectNow(reason string) bool
	BeginUnmount()
	MarkCleanup() bool
	SendCleanup() error
	CloseClean(reason string) bool
	CancelTimers()
	SocketOpen() bool
}

// Runner executes fn on the goroutine that owns the Link and waits for
// it. *eventloop.Loop implements it.
type Runner interface {
	Do(fn func()) bool
}

// BotController stops every bot on the backend.
type BotController interface {
	StopAllBots(ctx context.Context) (*api.BulkResult, error)
}

// Config tunes the coordinator.
type Config struct {
	WakeInterval    time.Duration
	WakeTolerance   time.Duration
	NetworkInterval time.Duration // zero disables the network watcher
	ShutdownTimeout time.Duration // bounds the stop-all call
	CleanupTimeout  time.Duration // bounds the host force cleanup
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WakeInterval:    5 * time.Second,
		WakeTolerance:   10 * time.Second,
		NetworkInterval: 5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		CleanupTimeout:  3 * time.Second,
	}
}

// Coordinator maps environment signals onto the connection manager.
type Coordinator struct {
	cfg     Config
	runner  Runner
	link    Link
	bots    BotController
	bridge  host.Bridge
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Set once shutdown has run on either path.
	shutdownDone atomic.Bool
	shutdownMu   sync.Mutex

	interfaces interfaceLister
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBots enables the best-effort stop-all call during shutdown.
func WithBots(b BotController) Option {
	return func(c *Coordinator) {
		c.bots = b
	}
}

// WithBridge sets the desktop host bridge.
func WithBridge(b host.Bridge) Option {
	return func(c *Coordinator) {
		c.bridge = b
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a Coordinator for link, whose methods run via runner.
func New(cfg Config, runner Runner, link Link, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		runner:     runner,
		link:       link,
		bridge:     host.Noop{},
		interfaces: systemInterfaces,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "lifecycle")
	if c.cfg.ShutdownTimeout <= 0 {
		c.cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if c.cfg.CleanupTimeout <= 0 {
		c.cfg.CleanupTimeout = DefaultConfig().CleanupTimeout
	}
	return c
}

// Visible handles the client becoming visible again. If the socket is
// not open the attempt counter resets and a connect starts immediately.
func (c *Coordinator) Visible() bool {
	return c.reconnectNow("visible")
}

// Online handles the network coming back.
func (c *Coordinator) Online() bool {
	return c.reconnectNow("online")
}

func (c *Coordinator) reconnectNow(reason string) bool {
	started := false
	c.runner.Do(func() {
		started = c.link.ReconnectNow(reason)
	})
	return started
}

// Teardown latches unmounting, cancels every timer, closes the socket
// with the normal code and then runs the shutdown sequence.
func (c *Coordinator) Teardown(ctx context.Context) {
	c.logger.Info("tearing down")
	c.runner.Do(func() {
		c.link.BeginUnmount()
		c.link.CancelTimers()
		c.link.CloseClean("unmount")
	})
	c.Shutdown(ctx, "teardown")
}

// Shutdown runs the shutdown sequence at most once. Every step is best
// effort and failures are only logged. Returns false if the sequence
// had already run.
func (c *Coordinator) Shutdown(ctx context.Context, reason string) bool {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()

	if c.shutdownDone.Load() {
		c.logger.Debug("shutdown already performed", "reason", reason)
		return false
	}

	first := false
	var sendErr error
	sent := false
	ran := c.runner.Do(func() {
		first = c.link.MarkCleanup()
		if first && c.link.SocketOpen() {
			sent = true
			sendErr = c.link.SendCleanup()
		}
	})
	if !ran {
		first = true
	}
	if !first {
		c.logger.Debug("shutdown already performed", "reason", reason)
		return false
	}

	c.shutdownDone.Store(true)
	c.logger.Info("shutdown started", "reason", reason)

	if sent {
		c.step(StepCleanupMessage, sendErr)
	}

	if c.bots != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
		res, err := c.bots.StopAllBots(stopCtx)
		cancel()
		if err == nil {
			c.logger.Info("stopped all bots", "affected", res.Affected)
		}
		c.step(StepStopAll, err)
	}

	if ran {
		closed := false
		c.runner.Do(func() {
			closed = c.link.CloseClean(reason)
			c.link.CancelTimers()
		})
		if closed {
			c.step(StepClose, nil)
		}
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CleanupTimeout)
	err := c.bridge.ForceCleanup(cleanupCtx)
	cancel()
	if !errors.Is(err, host.ErrNoCommand) {
		c.step(StepForceCleanup, err)
	}

	c.logger.Info("shutdown complete", "reason", reason)
	return true
}

func (c *Coordinator) step(name string, err error) {
	c.metrics.ShutdownStep(name, err)
	if err != nil {
		c.logger.Warn("shutdown step failed", "step", name, "error", err)
		return
	}
	c.logger.Debug("shutdown step done", "step", name)
}

// Run watches for wake-from-sleep, network changes and host signals until
// ctx is done. A host close request or the kill switch runs the shutdown
// sequence and ends Run with ErrCloseRequested or ErrKillSwitch. On
// context cancellation Run performs Teardown and returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if c.cfg.WakeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.watchWake(watchCtx)
		}()
	}
	if c.cfg.NetworkInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.watchNetwork(watchCtx)
		}()
	}

	var result error
	select {
	case <-ctx.Done():
		cancel()
		wg.Wait()
		c.Teardown(ctx)
		return nil
	case reason := <-c.bridge.CloseRequests():
		c.logger.Info("host close requested", "reason", reason)
		result = ErrCloseRequested
		cancel()
		wg.Wait()
		c.Shutdown(ctx, "close requested")
	case <-c.bridge.KillSwitch():
		c.logger.Warn("kill switch activated")
		result = ErrKillSwitch
		cancel()
		wg.Wait()
		c.Shutdown(ctx, "kill switch")
	}

	return result
}

func (c *Coordinator) watchWake(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.WakeInterval)
	defer ticker.Stop()

	d := newWakeDetector(c.cfg.WakeInterval, c.cfg.WakeTolerance, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gap, woke := d.observe(time.Now()); woke {
				c.logger.Info("wake from sleep detected", "gap", gap)
				c.Visible()
			}
		}
	}
}

func (c *Coordinator) watchNetwork(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.NetworkInterval)
	defer ticker.Stop()

	w := &networkWatcher{online: c.probeOnline()}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.observe(c.probeOnline()) {
				c.logger.Info("network online")
				c.Online()
			}
		}
	}
}

func (c *Coordinator) probeOnline() bool {
	ifaces, err := c.interfaces()
	if err != nil {
		c.logger.Debug("list interfaces failed", "error", err)
		return false
	}
	return anyOnline(ifaces)
}
