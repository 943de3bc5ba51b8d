package application

import (
	"math"
	"sync"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

// Breach records one channel that is at or above a configured limit.
type Breach struct {
	Channel  string
	Value    float64
	Limit    float64
	Severity monitoring.Severity
}

// channelLatch remembers the limit that last raised a channel above Normal.
// A latched channel only downgrades once its magnitude falls below
// limit*(1-margin); crossing back exactly at the boundary holds the
// previous severity.
type channelLatch struct {
	severity monitoring.Severity
	limit    float64
}

// Evaluator classifies readings against thresholds with hysteresis. The
// latch state is keyed by node+channel and persists across ticks; access is
// mutex-protected because nodes evaluate concurrently within a tick.
type Evaluator struct {
	margin  float64
	mu      sync.Mutex
	latches map[string]channelLatch
}

// NewEvaluator constructs an evaluator with the given hysteresis margin
// (fraction of the triggering limit, e.g. 0.10).
func NewEvaluator(margin float64) *Evaluator {
	if margin < 0 {
		margin = 0
	}
	return &Evaluator{
		margin:  margin,
		latches: make(map[string]channelLatch),
	}
}

// Classify maps a reading to its overall severity, the maximum across the
// reading's channels. Channels with no configured threshold are skipped.
// Limits compare against channel magnitudes.
func (e *Evaluator) Classify(reading monitoring.Reading, thresholds monitoring.ThresholdSet) (monitoring.Severity, []Breach) {
	if e == nil {
		return monitoring.SeverityNormal, nil
	}

	overall := monitoring.SeverityNormal
	var breaches []Breach

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cv := range reading.Channels {
		threshold, ok := thresholds.Get(reading.NodeID, cv.Channel)
		if !ok {
			continue
		}
		severity, limit := e.classifyChannel(reading.NodeID, cv.Channel, math.Abs(cv.Value), threshold)
		if severity > monitoring.SeverityNormal {
			breaches = append(breaches, Breach{
				Channel:  cv.Channel,
				Value:    cv.Value,
				Limit:    limit,
				Severity: severity,
			})
		}
		overall = monitoring.MaxSeverity(overall, severity)
	}
	return overall, breaches
}

func (e *Evaluator) classifyChannel(nodeID, channel string, magnitude float64, threshold monitoring.Threshold) (monitoring.Severity, float64) {
	raw := monitoring.SeverityNormal
	limit := 0.0
	switch {
	case magnitude >= threshold.AlertLimit:
		raw = monitoring.SeverityAlert
		limit = threshold.AlertLimit
	case magnitude >= threshold.WarningLimit:
		raw = monitoring.SeverityWarning
		limit = threshold.WarningLimit
	}

	key := nodeID + "|" + channel
	latch, held := e.latches[key]

	if raw >= latch.severity || !held {
		if raw == monitoring.SeverityNormal {
			delete(e.latches, key)
			return raw, limit
		}
		e.latches[key] = channelLatch{severity: raw, limit: limit}
		return raw, limit
	}

	// Raw severity dropped below the latched one: only release the latch
	// when the value clears the margin below the triggering limit.
	release := latch.limit * (1 - e.margin)
	if magnitude < release {
		if raw == monitoring.SeverityNormal {
			delete(e.latches, key)
		} else {
			e.latches[key] = channelLatch{severity: raw, limit: limit}
		}
		return raw, limit
	}
	return latch.severity, latch.limit
}

// Reset drops all hysteresis state. Intended for tests and config reloads.
func (e *Evaluator) Reset() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.latches = make(map[string]channelLatch)
	e.mu.Unlock()
}
