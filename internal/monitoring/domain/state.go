package monitoring

import "time"

// AlertState tracks the last notification sent for a node. It is owned by
// the deduplicator and mutated only by pipeline runs; LastNotifiedAt is set
// only when a notification was actually dispatched.
type AlertState struct {
	NodeID         string
	LastSeverity   Severity
	LastNotifiedAt time.Time
	CooldownUntil  time.Time
}
