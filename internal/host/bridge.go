package host

import (
	"context"
	"errors"
)

// SentinelName is the file whose creation in the bridge directory
// activates the kill switch.
const SentinelName = "kill-switch"

// ErrNoCommand is returned by ForceCleanup when no hook is configured.
var ErrNoCommand = errors.New("no force cleanup command configured")

// Bridge is the desktop host surface seen by the lifecycle coordinator.
type Bridge interface {
	// CloseRequests delivers the reason for each host close request.
	CloseRequests() <-chan string
	// KillSwitch fires when the user activates the kill switch.
	KillSwitch() <-chan struct{}
	// ForceCleanup invokes the host's own cleanup hook.
	ForceCleanup(ctx context.Context) error
	Close() error
}

// Noop is a Bridge for running without a desktop host. Its channels
// never fire.
type Noop struct{}

func (Noop) CloseRequests() <-chan string           { return nil }
func (Noop) KillSwitch() <-chan struct{}            { return nil }
func (Noop) ForceCleanup(ctx context.Context) error { return ErrNoCommand }
func (Noop) Close() error                           { return nil }
