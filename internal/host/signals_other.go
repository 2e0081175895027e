//go:build !unix

package host

import "os"

var killSignals []os.Signal
