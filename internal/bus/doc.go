// Package bus is the process-wide publish point for link events.
//
// The connection manager publishes every inbound application message and
// every connectivity status change. Consumers (the local event relay, the
// journal) subscribe independently and never touch connection state.
package bus
