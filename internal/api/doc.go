// Package api hosts the HTTP server, middleware, and REST handlers for the
// harvester. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /api/scraping/start and /api/scraping/stop drive the single job slot.
//   - /api/scraping/urls manages registered seed URLs.
//   - /api/companies, /api/logs and /api/jobs/{id} read back results.
//   - POST /api/export renders companies as CSV, JSON or XLSX.
//   - POST /api/relays/test probes every configured relay.
package api
