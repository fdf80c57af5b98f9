// Package api implements the local HTTP API and WebSocket event stream
// through which a settings UI drives therapylink.
//
// This package provides:
//   - REST endpoints to read and submit settings, trigger a full sync and
//     ask the device for its current settings
//   - Queue, dead-letter and delivery journal inspection
//   - A WebSocket hub that relays applied settings, decode failures, link
//     changes and delivery events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// The API has no authentication and binds to 127.0.0.1 by default. Expose
// it beyond the host only behind a proxy that authenticates callers.
//
// # Graceful Degradation
//
// The server works while the broker is unreachable: submissions are
// queued durably and delivered after reconnect. Only RequestSettings,
// which is not queued, fails with 503 while disconnected.
package api
