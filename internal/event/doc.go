// Package event defines the typed events the monitoring core consumes.
// Each input category (performance, workflow, compliance, security,
// integration) has its own event type carrying a validated payload, replacing
// ad-hoc string-keyed metric maps with typed field extraction.
package event
