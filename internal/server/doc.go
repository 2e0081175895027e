// Package server exposes the local status surface of a running client:
// liveness, the connection snapshot, Prometheus metrics, and a websocket
// relay of bus events for local display clients.
package server
