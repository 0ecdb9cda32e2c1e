// Package api hosts the read-only HTTP surface over the discovery cache.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/entries and /v1/entries/{district}/{season}/{competition}/{sub_endpoint}
//     for resolved cache rows.
//   - GET /v1/sessions and /v1/sessions/{session_id} for run history.
//   - GET /v1/stats for entry counts by status.
package api
