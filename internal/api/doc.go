// Package api hosts the operator HTTP interface of the crawler:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier/stats and /v1/frontier/lookup to inspect the frontier.
//   - POST /v1/seeds to add root URLs to the frontier.
//   - GET /v1/sessions, /v1/sessions/{session_id} and
//     /v1/sessions/{session_id}/hosts for session history via the
//     store.SessionRepository interface.
package api
