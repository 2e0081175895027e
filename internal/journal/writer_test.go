package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/dashlink/internal/bus"
)

type fakeStore struct {
	mu        sync.Mutex
	schemaErr error
	insertErr error
	batches   [][]Row
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error {
	return s.schemaErr
}

func (s *fakeStore) Insert(ctx context.Context, rows []Row) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.batches = append(s.batches, rows)
	return len(rows), nil
}

func (s *fakeStore) setInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *fakeStore) rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestWriter_Transform(t *testing.T) {
	w := NewWriter(DefaultConfig(), &fakeStore{}, nil, "session-1", nil, nil)
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	msg := w.transform(bus.Event{
		Kind:    bus.KindMessage,
		Type:    "news",
		Payload: json.RawMessage(`{"type":"news"}`),
		At:      at,
	}, 7)
	if msg.SessionID != "session-1" || msg.Seq != 7 {
		t.Errorf("SessionID/Seq = %s/%d, want session-1/7", msg.SessionID, msg.Seq)
	}
	if msg.Kind != "message" || msg.Type != "news" {
		t.Errorf("Kind/Type = %s/%s, want message/news", msg.Kind, msg.Type)
	}
	if string(msg.Payload) != `{"type":"news"}` {
		t.Errorf("Payload = %s", msg.Payload)
	}
	if !msg.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, at)
	}

	status := w.transform(bus.Event{Kind: bus.KindStatus, Status: "connected"}, 8)
	if status.Payload != nil {
		t.Errorf("status Payload = %s, want nil", status.Payload)
	}
	if status.Status != "connected" || status.ReceivedAt.IsZero() {
		t.Errorf("status row = %+v", status)
	}
}

func TestWriter_FlushOnStop(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{}
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour}
	w := NewWriter(cfg, store, b.Subscribe(16), "s", nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "connecting"})
	b.Publish(bus.Event{Kind: bus.KindMessage, Type: "orders", Payload: json.RawMessage(`{}`)})
	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "connected"})

	waitFor(t, func() bool { return w.Stats().Received == 3 })

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rows := store.rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, r := range rows {
		if r.Seq != int64(i+1) {
			t.Errorf("rows[%d].Seq = %d, want %d", i, r.Seq, i+1)
		}
	}
	if rows[1].Type != "orders" {
		t.Errorf("rows[1].Type = %q, want orders", rows[1].Type)
	}
	if got := w.Stats().Inserts; got != 3 {
		t.Errorf("Inserts = %d, want 3", got)
	}
	if b.Stats().Subscribers != 0 {
		t.Error("Stop should unsubscribe from the bus")
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour}, store, b.Subscribe(16), "s", nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	for i := 0; i < 4; i++ {
		b.Publish(bus.Event{Kind: bus.KindMessage, Type: "news"})
	}

	waitFor(t, func() bool { return store.batchCount() == 2 })
}

func TestWriter_FlushOnInterval(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, store, b.Subscribe(16), "s", nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "disconnected"})

	waitFor(t, func() bool { return len(store.rows()) == 1 })
}

func TestWriter_InsertErrorCounted(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{insertErr: errors.New("db down")}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, store, b.Subscribe(16), "s", nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Publish(bus.Event{Kind: bus.KindMessage, Type: "news"})

	waitFor(t, func() bool { return w.Stats().Errors == 1 })
	w.Stop(context.Background())
}

func TestWriter_StopDrainsBufferedEvents(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, store, b.Subscribe(16), "s", nil, nil)

	// Nothing consumes the subscription, so these stay buffered until Stop.
	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "connected"})
	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "disconnected"})

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rows := store.rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1].Status != "disconnected" {
		t.Errorf("last row status = %q, want disconnected", rows[1].Status)
	}
}

func TestWriter_RetriesFailedBatch(t *testing.T) {
	b := bus.New(nil)
	store := &fakeStore{insertErr: errors.New("db down")}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, store, b.Subscribe(16), "s", nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Publish(bus.Event{Kind: bus.KindStatus, Status: "disconnected"})
	waitFor(t, func() bool { return w.Stats().Errors == 1 })

	store.setInsertErr(nil)
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rows := store.rows()
	if len(rows) != 1 || rows[0].Status != "disconnected" {
		t.Fatalf("rows = %+v, want the failed row retried", rows)
	}
}

func TestWriter_RequeueBounded(t *testing.T) {
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, &fakeStore{}, nil, "s", nil, nil)

	failed := make([]Row, 0, 6)
	for i := 1; i <= 6; i++ {
		failed = append(failed, Row{Seq: int64(i)})
	}

	w.batchMu.Lock()
	dropped := w.requeue(failed)
	w.batchMu.Unlock()

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(w.batch) != maxBacklog {
		t.Fatalf("backlog = %d, want %d", len(w.batch), maxBacklog)
	}
	if w.batch[0].Seq != 3 {
		t.Errorf("oldest kept seq = %d, want 3", w.batch[0].Seq)
	}
	if got := w.Stats().Dropped; got != 2 {
		t.Errorf("Stats.Dropped = %d, want 2", got)
	}
}

func TestWriter_StartFailsWithoutSchema(t *testing.T) {
	store := &fakeStore{schemaErr: errors.New("permission denied")}
	w := NewWriter(DefaultConfig(), store, bus.New(nil).Subscribe(1), "s", nil, nil)

	if err := w.Start(context.Background()); err == nil {
		t.Error("expected schema error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
