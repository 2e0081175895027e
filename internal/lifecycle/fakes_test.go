package lifecycle

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rickgao/dashlink/internal/api"
)

// inlineRunner runs fn on the caller's goroutine under a lock.
type inlineRunner struct {
	mu      sync.Mutex
	stopped atomic.Bool
}

func (r *inlineRunner) Do(fn func()) bool {
	if r.stopped.Load() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	return true
}

// fakeLink mimics the manager's latches.
type fakeLink struct {
	open         bool
	unmounting   bool
	cleanup      bool
	cleanupSent  int
	closes       []string
	cancels      int
	reconnects   []string
	sendErr      error
	reconnectHit chan string
}

func (l *fakeLink) ReconnectNow(reason string) bool {
	if l.unmounting || l.open {
		return false
	}
	l.reconnects = append(l.reconnects, reason)
	if l.reconnectHit != nil {
		select {
		case l.reconnectHit <- reason:
		default:
		}
	}
	return true
}

func (l *fakeLink) BeginUnmount() { l.unmounting = true }

func (l *fakeLink) MarkCleanup() bool {
	if l.cleanup {
		return false
	}
	l.cleanup = true
	return true
}

func (l *fakeLink) SendCleanup() error {
	l.cleanupSent++
	return l.sendErr
}

func (l *fakeLink) CloseClean(reason string) bool {
	if !l.open {
		return false
	}
	l.open = false
	l.closes = append(l.closes, reason)
	return true
}

func (l *fakeLink) CancelTimers() { l.cancels++ }

func (l *fakeLink) SocketOpen() bool { return l.open }

type fakeBots struct {
	calls atomic.Int32
	err   error
}

func (b *fakeBots) StopAllBots(ctx context.Context) (*api.BulkResult, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return &api.BulkResult{Action: api.StopAll, Affected: 2}, nil
}

type fakeBridge struct {
	closeReq chan string
	kill     chan struct{}
	cleanups atomic.Int32
	err      error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{closeReq: make(chan string, 1), kill: make(chan struct{}, 1)}
}

func (b *fakeBridge) CloseRequests() <-chan string { return b.closeReq }
func (b *fakeBridge) KillSwitch() <-chan struct{}  { return b.kill }
func (b *fakeBridge) Close() error                 { return nil }

func (b *fakeBridge) ForceCleanup(ctx context.Context) error {
	b.cleanups.Add(1)
	return b.err
}

var errBoom = errors.New("boom")

func ifaces(flags ...net.Flags) []net.Interface {
	out := make([]net.Interface, len(flags))
	for i, f := range flags {
		out[i] = net.Interface{Index: i + 1, Name: "if" + string(rune('0'+i)), Flags: f}
	}
	return out
}
