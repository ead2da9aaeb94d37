// Package api implements the HTTP REST API and WebSocket status stream for
// MacroForge.
//
// This package provides:
//   - REST endpoints for script CRUD and starting runs
//   - run inspection and cancellation (live handles plus persisted history)
//   - background action start/stop and queue start/cancel
//   - a stop-all endpoint that halts every loop touching the device
//   - a WebSocket hub relaying run, background and queue events
//   - JWT bearer authentication with per-role permissions
//
// # Architecture
//
// The server is a thin layer over the engine, scheduler, sequencer and
// controller. It never drives the device itself: every operation goes
// through the same components the CLI and MQTT command handlers use, so
// the input gate is respected regardless of the entry point.
//
// Status events flow from the events bus to WebSocket clients. Each
// client subscribes to channels named after event kinds
// ("run.status", "background.status", "queue.progress").
//
// # Security
//
// Tokens are minted by `macroforge token`. WebSocket connections use
// single-use tickets from POST /api/v1/auth/ws-ticket so the bearer
// token never appears in a URL. An empty JWT secret disables auth, which
// is only sensible when the API listens on loopback.
package api
