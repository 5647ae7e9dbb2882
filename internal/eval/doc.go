// Package eval implements stateless condition evaluation plus the small
// amount of history needed for sustained-duration checks: a ring of recent
// samples per (rule, metric) pair, so duration windows are answered without
// re-querying external stores.
package eval
