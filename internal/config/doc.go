// Package config loads and validates the engine configuration from YAML:
// alert and business rules, suppression windows, escalation policies,
// circuit-breaker settings, notification targets and sweep intervals.
// It also supports hot reload via filesystem watching, so rule changes take
// effect without restarting the evaluator.
package config
