package connection

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/dashlink/internal/bus"
	"github.com/rickgao/dashlink/internal/eventloop"
)

// fakeScheduler is a manually driven loop with virtual time. Post may be
// called from any goroutine; everything else runs on the test goroutine.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
	posted []func()
	posts  int
}

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1700000000, 0)}
}

func (s *fakeScheduler) Post(fn func()) bool {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.posts++
	s.mu.Unlock()
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTimer{s: s, d: d, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) live() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return !t.stopped && !t.fired
}

// Now returns the virtual clock.
func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RunPosted drains posted tasks, including ones they post.
func (s *fakeScheduler) RunPosted() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.mu.Unlock()
			return n
		}
		fn := s.posted[0]
		s.posted = s.posted[1:]
		s.mu.Unlock()
		fn()
		n++
	}
}

// Posts returns how many tasks were ever posted.
func (s *fakeScheduler) Posts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

// waitPost blocks until a task beyond since has been posted by another
// goroutine, then drains the queue on the caller's goroutine.
func (s *fakeScheduler) waitPost(t *testing.T, since int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Posts() <= since {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a posted task")
		}
		time.Sleep(time.Millisecond)
	}
	s.RunPosted()
}

// Advance moves virtual time forward, firing due timers in order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.RunPosted()

		s.mu.Lock()
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			s.RunPosted()
			return
		}
		s.now = next.at
		next.fired = true
		s.mu.Unlock()

		next.fn()
	}
}

// Live returns timers that are neither stopped nor fired.
func (s *fakeScheduler) Live() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

type closeCall struct {
	code   int
	reason string
}

// fakeSocket behaves like a browser socket: Close delivers OnClose
// asynchronously unless detached.
type fakeSocket struct {
	s        *fakeScheduler
	url      string
	h        Handlers
	state    ReadyState
	detached bool
	sent     [][]byte
	closes   []closeCall
	sendErr  error
}

func (f *fakeSocket) ReadyState() ReadyState { return f.state }

func (f *fakeSocket) Send(data []byte) error {
	if f.state != StateOpen {
		return ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.closes = append(f.closes, closeCall{code, reason})
	if f.state == StateClosing || f.state == StateClosed {
		return nil
	}
	f.state = StateClosing
	f.s.Post(func() {
		f.state = StateClosed
		if !f.detached && f.h.OnClose != nil {
			f.h.OnClose(code, reason)
		}
	})
	return nil
}

func (f *fakeSocket) Detach() {
	f.detached = true
	f.h = Handlers{}
}

// Open completes the handshake.
func (f *fakeSocket) Open() {
	f.state = StateOpen
	if !f.detached && f.h.OnOpen != nil {
		f.h.OnOpen()
	}
}

// ServerClose simulates the peer or network ending the connection.
func (f *fakeSocket) ServerClose(code int, reason string) {
	f.state = StateClosed
	if f.detached {
		return
	}
	if code != CloseNormal && f.h.OnError != nil {
		f.h.OnError(ErrNotConnected)
	}
	if f.h.OnClose != nil {
		f.h.OnClose(code, reason)
	}
}

// Receive delivers an inbound frame.
func (f *fakeSocket) Receive(data string) {
	if !f.detached && f.h.OnMessage != nil {
		f.h.OnMessage([]byte(data))
	}
}

// sentOfType decodes outbound frames with the given type.
func (f *fakeSocket) sentOfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, data := range f.sent {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil && m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	s       *fakeScheduler
	err     error
	sockets []*fakeSocket
	urls    []string
}

func (d *fakeDialer) Dial(url string, h Handlers) (Socket, error) {
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	sock := &fakeSocket{s: d.s, url: url, h: h, state: StateConnecting}
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

func (d *fakeDialer) last() *fakeSocket {
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// fakeChecker answers health checks with err, or blocks until the
// context ends when block is set.
type fakeChecker struct {
	mu       sync.Mutex
	err      error
	block    bool
	calls    int
	canceled chan struct{}
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{canceled: make(chan struct{}, 8)}
}

func (c *fakeChecker) Health(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	err, block := c.err, c.block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		c.canceled <- struct{}{}
		return ctx.Err()
	}
	return err
}

func (c *fakeChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	events []bus.Event
}

func (p *recordingPublisher) Publish(ev bus.Event) int {
	p.events = append(p.events, ev)
	return 1
}

func (p *recordingPublisher) statuses() []string {
	var out []string
	for _, ev := range p.events {
		if ev.Kind == bus.KindStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (p *recordingPublisher) messages() []bus.Event {
	var out []bus.Event
	for _, ev := range p.events {
		if ev.Kind == bus.KindMessage {
			out = append(out, ev)
		}
	}
	return out
}
