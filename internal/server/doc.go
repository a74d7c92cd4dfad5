// Package server implements the HTTP server using Echo framework.
//
// Routes: /sse and /ws (change stream), /files (catalog snapshot),
// /health/live, /health/ready, /version, /metrics. Stream connections pass
// through a global/per-IP/rate connection limiter before registering with
// the hub.
package server
