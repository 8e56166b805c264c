// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Synchronous workflow runs and validation
//   - Asynchronous execution submission, status and cancellation
//   - Capability listing and composite definitions
//   - Health checks
//   - Prometheus metrics
package http
