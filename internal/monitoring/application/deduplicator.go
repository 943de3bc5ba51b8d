package application

import (
	"sync"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

// Deduplicator suppresses repeat notifications for unchanged severities
// within the cooldown window. After the window elapses an unchanged
// severity re-admits (periodic reminder). Escalations always admit.
// It owns the per-node AlertState; access is mutex-protected because nodes
// run concurrently within a tick.
type Deduplicator struct {
	cooldown time.Duration
	mu       sync.Mutex
	states   map[string]monitoring.AlertState
}

// NewDeduplicator constructs a deduplicator with the given cooldown window.
func NewDeduplicator(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		cooldown: cooldown,
		states:   make(map[string]monitoring.AlertState),
	}
}

// Admit decides whether a notification for the node's current severity may
// be dispatched now. Rules, in order: Normal clears state and never
// dispatches; an unchanged severity inside the cooldown window is
// suppressed; anything else admits and restarts the cooldown. A severity
// escalation bypasses the cooldown unconditionally.
func (d *Deduplicator) Admit(nodeID string, severity monitoring.Severity, now time.Time) bool {
	if d == nil || nodeID == "" {
		return false
	}
	now = now.UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.states[nodeID]

	if severity == monitoring.SeverityNormal {
		if ok {
			delete(d.states, nodeID)
		}
		return false
	}

	if ok && severity == state.LastSeverity && now.Before(state.CooldownUntil) {
		return false
	}

	d.states[nodeID] = monitoring.AlertState{
		NodeID:         nodeID,
		LastSeverity:   severity,
		LastNotifiedAt: now,
		CooldownUntil:  now.Add(d.cooldown),
	}
	return true
}

// State returns a copy of the node's alert state.
func (d *Deduplicator) State(nodeID string) (monitoring.AlertState, bool) {
	if d == nil {
		return monitoring.AlertState{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[nodeID]
	return state, ok
}
