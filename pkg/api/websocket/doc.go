// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/executions/:id/ws to receive the events of
// one execution as JSON text frames. The stream closes after the
// execution.finished event.
package websocket
