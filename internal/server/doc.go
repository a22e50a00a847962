// Package server provides the HTTP server for the zync admin dashboard.
//
// This package handles all HTTP concerns of the dashboard:
//
//   - Dashboard serving: Serves the embedded HTML/CSS/JS page at "/"
//   - REST API: JSON snapshots of challenges, deployment errors and teams
//   - Live updates: store events over Server-Sent Events at "/api/sse" and
//     over a WebSocket at "/api/ws"
//   - Actions: deploy, terminate, bulk operations, reload and refresh,
//     delegated to an [Actions] implementation
//
// Routing uses gorilla/mux. The server supports graceful shutdown via
// context cancellation, with a 5-second timeout for in-flight requests.
package server
