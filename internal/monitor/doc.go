// Package monitor is the evaluator facade: it wires the rule registry,
// condition evaluator, alert engine, incident manager, circuit breakers,
// business rule engine, escalation scheduler and notification queue into one
// explicitly-constructed instance, exposes the report/query operations the
// host application calls, and runs the periodic sweeps.
package monitor
