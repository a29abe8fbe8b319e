// Package http exposes the relay over a JSON API.
//
// Routes:
//   - POST /api/v1/relay: submit a payload, returns the normalized envelope
//   - GET /api/v1/sandbox: session state with pending and queued counts
//   - GET /api/v1/sandbox/logs: recent log messages posted by the page
//   - GET /health, GET /metrics/json
//
// A payload submitted while no sandbox is bound goes to the direct fallback
// when one is configured; the response's "path" field says which was used.
package http
