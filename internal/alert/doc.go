// Package alert matches incoming events against the active rule set,
// manages active-alert state and fires each matched rule's actions in
// priority order. Suppressed matches are recorded for audit instead of being
// silently discarded, and re-evaluating an already-active alert never
// creates a duplicate.
package alert
