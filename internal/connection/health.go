package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/dashlink/internal/eventloop"
	"github.com/rickgao/dashlink/internal/metrics"
)

// HealthChecker reports whether the backend answers its health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// healthProbe polls a HealthChecker while the link is down. Start and
// Stop are idempotent and, like every other callback, run on the
// scheduler's goroutine. Requests themselves run on a worker goroutine.
type healthProbe struct {
	sched     Scheduler
	checker   HealthChecker
	interval  time.Duration
	timeout   time.Duration
	onHealthy func()
	metrics   *metrics.Metrics
	logger    *slog.Logger

	running bool
	gen     uint64 // bumped on Start and Stop to discard stale results
	timer   eventloop.Timer
	cancel  context.CancelFunc
}

func newHealthProbe(sched Scheduler, checker HealthChecker, interval, timeout time.Duration,
	onHealthy func(), m *metrics.Metrics, logger *slog.Logger) *healthProbe {
	return &healthProbe{
		sched:     sched,
		checker:   checker,
		interval:  interval,
		timeout:   timeout,
		onHealthy: onHealthy,
		metrics:   m,
		logger:    logger,
	}
}

// Start begins polling. No-op when running or without a checker.
func (p *healthProbe) Start() {
	if p.running || p.checker == nil {
		return
	}
	p.running = true
	p.gen++
	p.schedule()
}

// Stop ends polling and abandons any in-flight request.
func (p *healthProbe) Stop() {
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	stopTimer(&p.timer)
	p.abort()
}

// Running reports whether the probe is active.
func (p *healthProbe) Running() bool {
	return p.running
}

func (p *healthProbe) schedule() {
	p.timer = p.sched.AfterFunc(p.interval, p.tick)
}

func (p *healthProbe) tick() {
	p.timer = nil
	if !p.running {
		return
	}
	p.abort()

	gen := p.gen
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	p.cancel = cancel
	go func() {
		err := p.checker.Health(ctx)
		cancel()
		p.sched.Post(func() {
			p.finish(gen, err)
		})
	}()

	p.schedule()
}

func (p *healthProbe) finish(gen uint64, err error) {
	if gen != p.gen || !p.running {
		return
	}
	p.metrics.HealthCheck(err)
	if err != nil {
		p.logger.Debug("health check failed", "error", err)
		return
	}
	p.onHealthy()
}

func (p *healthProbe) abort() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
