// Package store defines the crawl session repository: session rows with
// their outcome counters, plus per-host fetch tallies. Implementations live in
// internal/storage; this package imports no drivers.
package store
