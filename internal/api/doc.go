// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape/... to enqueue navigation, category, product and search crawls.
//   - /v1/jobs for generic submission, status lookup and cancellation.
package api
