// Package main is the frontier-crawler entrypoint.
//
// Layout:
//   - internal/frontier holds the durable URL frontier contract; memory, SQLite
//     and Postgres backends implement it.
//   - internal/scheduler runs a crawl session: workers claim entries, pace
//     requests per host, fetch, resolve redirects and enqueue discovered links.
//   - internal/app wires config into backends, and internal/api exposes probes,
//     metrics and frontier inspection over HTTP.
//
// Run locally: go run ./cmd/frontier-crawler crawl --config config.yaml https://example.com/
package main

import "github.com/JakeFAU/frontier-crawler/cmd"

func main() {
	cmd.Execute()
}
