package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/dashlink/internal/bus"
	"github.com/rickgao/dashlink/internal/metrics"
)

// maxBacklog bounds how many failed batches are held for retry.
const maxBacklog = 4

// Config configures a Writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats holds writer counters.
type Stats struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Writer consumes bus events and writes them to a Store in batches.
type Writer struct {
	cfg       Config
	store     Store
	sub       *bus.Subscription
	sessionID string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Batching
	seq     int64
	batch   []Row
	batchMu sync.Mutex
	stats   Stats

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer reading from sub. sessionID tags every row.
func NewWriter(cfg Config, store Store, sub *bus.Subscription, sessionID string, m *metrics.Metrics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Writer{
		cfg:       cfg,
		store:     store,
		sub:       sub,
		sessionID: sessionID,
		metrics:   m,
		logger:    logger.With("component", "journal"),
		batch:     make([]Row, 0, cfg.BatchSize),
	}
}

// Start ensures the schema exists and begins consuming events.
func (w *Writer) Start(ctx context.Context) error {
	if err := w.store.EnsureSchema(ctx); err != nil {
		return err
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"session_id", w.sessionID,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, waits for the loops, and flushes what is left.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	w.sub.Close()

	// Pick up events still buffered in the closed subscription.
	for ev := range w.sub.Events() {
		w.appendEvent(ev)
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("journal writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.sub.Events():
			if !ok {
				return
			}
			w.handleEvent(ev)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleEvent(ev bus.Event) {
	if w.appendEvent(ev) >= w.cfg.BatchSize {
		w.flush(w.ctx)
	}
}

// appendEvent adds ev to the batch and returns the new batch length.
func (w *Writer) appendEvent(ev bus.Event) int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.seq++
	w.batch = append(w.batch, w.transform(ev, w.seq))
	w.stats.Received++
	return len(w.batch)
}

// transform converts a bus event to a row.
func (w *Writer) transform(ev bus.Event, seq int64) Row {
	row := Row{
		SessionID:  w.sessionID,
		Seq:        seq,
		Kind:       string(ev.Kind),
		Type:       ev.Type,
		Status:     ev.Status,
		ReceivedAt: ev.At,
	}
	if len(ev.Payload) > 0 {
		row.Payload = []byte(ev.Payload)
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	return row
}

// flush writes the current batch to the store.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	inserted, err := w.store.Insert(ctx, batch)
	w.metrics.JournalFlushed(inserted, err)
	if err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		dropped := w.requeue(batch)
		w.batchMu.Unlock()
		if dropped > 0 {
			w.logger.Warn("journal backlog full, dropped oldest rows", "dropped", dropped)
		}
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(len(batch) - inserted)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"inserted", inserted,
		"duration", time.Since(start),
	)
}

// requeue puts a failed batch back ahead of newer rows so the next flush
// retries it. The backlog is capped at maxBacklog batches; the oldest rows
// beyond that are dropped. Callers hold batchMu.
func (w *Writer) requeue(failed []Row) int {
	w.batch = append(failed, w.batch...)
	limit := w.cfg.BatchSize * maxBacklog
	if len(w.batch) <= limit {
		return 0
	}
	dropped := len(w.batch) - limit
	w.batch = append(make([]Row, 0, limit), w.batch[dropped:]...)
	w.stats.Dropped += int64(dropped)
	return dropped
}
