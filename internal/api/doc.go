// Package api hosts the optional operator endpoint that runs alongside a
// harvest. Routes:
//   - GET /healthz for liveness probes.
//   - GET /status for the current run id and stage.
//   - GET /metrics for Prometheus scraping.
package api
