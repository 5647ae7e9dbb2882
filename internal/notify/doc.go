// Package notify implements the durable outbound notification queue that
// decouples rule-triggered actions from delivery. Items are drained
// periodically through a Deliverer; failures are recorded, never retried
// automatically, and everything ages out after a retention window.
package notify
