//go:build unix

package host

import (
	"os"
	"syscall"
)

var killSignals = []os.Signal{syscall.SIGUSR1}
