// Package incident owns the incident lifecycle: creation from triggering
// alerts, the status state machine, the append-only audit timeline and
// derived priority. Repeated security alerts for the same target within the
// aggregation window attach to the existing incident instead of opening
// duplicates.
package incident
