package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a Desktop bridge.
type Config struct {
	Dir            string   // watched for SentinelName; empty disables the watch
	Command        []string // argv of the force cleanup hook
	CommandTimeout time.Duration
	Signals        bool // translate SIGINT/SIGTERM and the kill signal
}

// Desktop is a Bridge backed by the local OS.
type Desktop struct {
	cfg    Config
	logger *slog.Logger

	closeReq chan string
	kill     chan struct{}
	sigCh    chan os.Signal
	watcher  *fsnotify.Watcher

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDesktop starts listening for host signals.
func NewDesktop(cfg Config, logger *slog.Logger) (*Desktop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 3 * time.Second
	}

	d := &Desktop{
		cfg:      cfg,
		logger:   logger.With("component", "host"),
		closeReq: make(chan string, 1),
		kill:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create host dir: %w", err)
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Add(cfg.Dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
		}
		d.watcher = w
		// A sentinel left behind by a previous run must not kill this one.
		_ = os.Remove(filepath.Join(cfg.Dir, SentinelName))

		d.wg.Add(1)
		go d.watchLoop()
	}

	if cfg.Signals {
		d.sigCh = make(chan os.Signal, 2)
		signal.Notify(d.sigCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, killSignals...)...)

		d.wg.Add(1)
		go d.signalLoop()
	}

	return d, nil
}

// CloseRequests implements Bridge.
func (d *Desktop) CloseRequests() <-chan string {
	return d.closeReq
}

// KillSwitch implements Bridge.
func (d *Desktop) KillSwitch() <-chan struct{} {
	return d.kill
}

// ForceCleanup runs the configured cleanup command.
func (d *Desktop) ForceCleanup(ctx context.Context) error {
	if len(d.cfg.Command) == 0 {
		return ErrNoCommand
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.cfg.Command[0], d.cfg.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run force cleanup: %w: %s", err, strings.TrimSpace(string(out)))
	}

	d.logger.Info("force cleanup completed", "command", d.cfg.Command[0])
	return nil
}

// Close stops signal delivery and the directory watch.
func (d *Desktop) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		if d.sigCh != nil {
			signal.Stop(d.sigCh)
		}
		if d.watcher != nil {
			err = d.watcher.Close()
		}
		d.wg.Wait()
	})
	return err
}

func (d *Desktop) signalLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case sig := <-d.sigCh:
			if isKillSignal(sig) {
				d.logger.Warn("kill switch signal received", "signal", sig)
				d.fireKill()
				continue
			}
			d.logger.Info("close requested", "signal", sig)
			select {
			case d.closeReq <- sig.String():
			default:
			}
		}
	}
}

func (d *Desktop) watchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != SentinelName {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			d.logger.Warn("kill switch sentinel detected", "path", ev.Name)
			_ = os.Remove(ev.Name)
			d.fireKill()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("host watcher error", "error", err)
		}
	}
}

func (d *Desktop) fireKill() {
	select {
	case d.kill <- struct{}{}:
	default:
	}
}

func isKillSignal(sig os.Signal) bool {
	for _, k := range killSignals {
		if sig == k {
			return true
		}
	}
	return false
}
