// Package api implements the HTTP REST API and WebSocket event stream of
// the Lutron bridge service.
//
// This package provides:
//   - Read endpoints for bridge status, statistics and LEAP discovery data
//   - Integration ids seen on the wire and bridge status history
//   - Manual reconnect and runtime log level changes
//   - Prometheus metrics at /metrics
//   - A WebSocket hub relaying bridge status and traffic in real time
//   - Middleware stack (request ID, logging, recovery, bearer auth)
//
// # Security
//
// Every /api/v1 route except /health requires an HS256 bearer token minted
// by "lutronbridge token". The WebSocket endpoint also accepts the token in
// the "token" query parameter, since browsers cannot set headers on an
// upgrade request.
//
// # Graceful Degradation
//
// The recorder, metrics gatherer and MQTT client are optional. Endpoints
// backed by a missing dependency answer 503.
package api
