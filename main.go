// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, scraping control, seed URL management, stored companies,
//     job logs and exports. POST /api/scraping/start claims the single job slot and runs the job in the background.
//   - Job flow: internal/orchestrator walks seed URLs one at a time. internal/pagination fetches each page through the
//     relay rotator, extracts companies and hands them to a run-wide sink that drops duplicate names.
//   - Fetch pipeline: internal/relay rotates round-robin over public CORS relays with linear backoff, throttled per
//     relay by internal/policy/ratelimit. The Colly transport performs the actual GETs.
//   - Persistence & fanout: jobs, companies, logs and seed URLs live in the configured repository (memory, Postgres or
//     SQLite). Raw pages are optionally archived to a BlobStore (memory/local/GCS) and a completion event is published
//     to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: HARVESTER_SERVER_PORT, HARVESTER_STORAGE_DRIVER, HARVESTER_STORAGE_DSN,
//     HARVESTER_ARCHIVE_DRIVER, HARVESTER_PUBSUB_DRIVER, HARVESTER_AUTH_ENABLED and HARVESTER_AUTH_API_KEY.
//   - Run the service: go run . serve --config config.yaml
//   - One-off scrape: go run . scrape https://www.trustpilot.com/categories/bakery --delay 1000
package main

import (
	"github.com/JakeFAU/listing-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
