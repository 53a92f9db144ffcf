// Package api hosts the operator HTTP endpoints of a worker process:
//   - GET /healthz for liveness.
//   - GET /readyz, which fails while the broker is unreachable.
//   - GET /metrics for Prometheus scraping.
package api
