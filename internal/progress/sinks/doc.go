// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and an in-memory status view for the ops API.
package sinks
