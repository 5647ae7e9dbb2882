// Package probe runs the built-in health probes against external
// integrations and reports their outcomes to the monitoring core. It speaks
// plain HTTP for liveness endpoints and parses Prometheus text exposition
// for dependencies that publish /metrics.
package probe
