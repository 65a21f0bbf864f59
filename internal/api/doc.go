// Package api hosts the ops HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/batches/latest for the running summary of the current batch.
package api
