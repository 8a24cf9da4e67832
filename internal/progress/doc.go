// Package progress carries crawl session milestones from the fetch workers to
// pluggable sinks. Workers emit events into a non-blocking Hub which batches
// them on a background goroutine and fans them out to sinks such as
// Prometheus collectors, the session repository or the structured log.
package progress
