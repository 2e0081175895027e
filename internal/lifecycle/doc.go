// Package lifecycle reacts to environment signals on behalf of the
// connection manager.
//
// The Coordinator turns wake-from-sleep, network-online, host close
// requests, the kill switch and teardown into manager operations, and
// runs the shutdown sequence at most once per process.
package lifecycle
