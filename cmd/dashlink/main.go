// Command dashlink keeps a dashboard client connected to its backend's
// real-time feed and exposes its state locally.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
