// Package connection implements the resilient real-time link.
//
// The Manager:
//   - Owns the single current socket to <ws-base>/ws and replaces it wholesale on reconnect
//   - Detaches a superseded socket's handlers before closing it
//   - Schedules reconnects through a backoff.Policy
//   - Sends a heartbeat ping while connected
//   - Probes the HTTP health endpoint while disconnected and reconnects as soon as it answers
//   - Republishes inbound payloads and status changes on the event bus
//
// All Manager methods are confined to the event loop passed as its
// Scheduler. Socket callbacks, timers and probe results are posted back
// onto that loop and re-check socket identity before acting.
package connection
