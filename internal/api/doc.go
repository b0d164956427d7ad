// Package api implements the HTTP REST API and WebSocket server for
// TagTrace Core.
//
// This package provides:
//   - The gateway ingestion endpoint (bearer-secret authenticated)
//   - REST endpoints for gateway/tag lifecycle, calibration, telemetry,
//     events, inventory reconciliation, and the audit trail
//   - A WebSocket hub for real-time event broadcasts to dashboards
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between store-floor hardware (gateways posting
// telemetry batches) and operator interfaces (dashboards, handheld
// apps). Telemetry flows through the ingestion pipeline; events the
// pipeline raises are broadcast to WebSocket clients as they happen.
//
// # Security
//
// Two credential planes exist. Gateways authenticate each ingestion
// batch with their bearer secret; everything else requires an operator
// JWT. WebSocket connections use single-use tickets so tokens never
// appear in URLs.
package api
