// Package escalate advances unacknowledged alerts and unresolved incidents
// through their escalation policy levels on a polling cadence, notifying the
// responsible roles at each level. Items that reach a terminal status are
// dropped before any escalation fires.
package escalate
