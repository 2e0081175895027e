package lifecycle

import (
	"net"
	"time"
)

// wakeDetector notices wall-clock jumps between ticks, which happen when
// the machine sleeps. Monotonic readings are stripped because the
// monotonic clock may stop during sleep.
type wakeDetector struct {
	interval  time.Duration
	tolerance time.Duration
	last      time.Time
}

func newWakeDetector(interval, tolerance time.Duration, now time.Time) *wakeDetector {
	return &wakeDetector{interval: interval, tolerance: tolerance, last: now.Round(0)}
}

func (d *wakeDetector) observe(now time.Time) (time.Duration, bool) {
	now = now.Round(0)
	gap := now.Sub(d.last)
	d.last = now
	return gap, gap > d.interval+d.tolerance
}

// networkWatcher reports offline to online transitions.
type networkWatcher struct {
	online bool
}

func (w *networkWatcher) observe(online bool) bool {
	cameUp := online && !w.online
	w.online = online
	return cameUp
}

type interfaceLister func() ([]net.Interface, error)

func systemInterfaces() ([]net.Interface, error) {
	return net.Interfaces()
}

// anyOnline reports whether a non-loopback interface is up and running.
func anyOnline(ifaces []net.Interface) bool {
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagRunning != 0 {
			return true
		}
	}
	return false
}
