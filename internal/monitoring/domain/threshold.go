package monitoring

import (
	"errors"
	"time"
)

// Threshold holds the configured warning/alert limits for one node channel.
// Limits are compared against channel magnitudes, unit-consistent with the
// reading values.
type Threshold struct {
	NodeID       string
	Channel      string
	WarningLimit float64
	AlertLimit   float64
	UpdatedAt    time.Time
}

// Validate checks threshold invariants.
func (t Threshold) Validate() error {
	if t.NodeID == "" {
		return errors.New("threshold: empty node id")
	}
	if t.Channel == "" {
		return errors.New("threshold: empty channel")
	}
	if t.WarningLimit <= 0 {
		return errors.New("threshold: warning limit must be positive")
	}
	if t.AlertLimit < t.WarningLimit {
		return errors.New("threshold: alert limit below warning limit")
	}
	return nil
}

// ThresholdSet indexes thresholds by node and channel for one tick.
type ThresholdSet map[string]map[string]Threshold

// Get returns the threshold for a node channel. A missing entry means the
// channel is excluded from evaluation.
func (s ThresholdSet) Get(nodeID, channel string) (Threshold, bool) {
	channels, ok := s[nodeID]
	if !ok {
		return Threshold{}, false
	}
	threshold, ok := channels[channel]
	return threshold, ok
}

// Add inserts a threshold into the set.
func (s ThresholdSet) Add(threshold Threshold) {
	if s[threshold.NodeID] == nil {
		s[threshold.NodeID] = make(map[string]Threshold)
	}
	s[threshold.NodeID][threshold.Channel] = threshold
}
