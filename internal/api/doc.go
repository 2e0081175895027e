// Package api provides the REST client for the dashboard backend.
//
// Endpoints used:
//   - GET  /health                 liveness, any 2xx is healthy
//   - POST /api/bots/stop-all      admin, best-effort during shutdown
//   - POST /api/bots/start-all     admin
//   - POST /api/bots/pause-all     admin
//   - POST /api/bots/resume-all    admin
//
// Bot control calls retry transient failures and pass through a circuit
// breaker so a shutdown against a dead backend fails fast.
package api
