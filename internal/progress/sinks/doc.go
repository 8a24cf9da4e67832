// Package sinks holds the progress consumers: Prometheus collectors, the
// session repository and a structured log.
package sinks
