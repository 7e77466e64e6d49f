// Package api hosts the status HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/workers for live counters of the current run.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/credentials for
//     run history via the store.ProgressRepository interface.
package api
