// Package crawler holds the shared domain model of the listing harvester:
// scrape jobs, their settings, harvested company records, log entries, and
// the ports (stores, transports, archives, publishers) the pipeline is wired
// through.
package crawler
