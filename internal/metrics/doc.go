// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Link phase and connect/open/close counts
//   - Scheduled reconnect delays
//   - Inbound message rates and malformed payloads
//   - Health probe outcomes
//   - Shutdown side effects and journal writes
//
// All methods are safe to call on a nil *Metrics.
package metrics
