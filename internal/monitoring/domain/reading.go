package monitoring

import (
	"errors"
	"time"
)

// ChannelValue is one measured channel of a reading.
type ChannelValue struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// Reading is one timestamped measurement set from a node.
type Reading struct {
	NodeID    string         `json:"node_id"`
	Timestamp time.Time      `json:"timestamp"`
	Channels  []ChannelValue `json:"channels"`
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.NodeID == "" {
		return errors.New("reading: empty node id")
	}
	if r.Timestamp.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	if len(r.Channels) == 0 {
		return errors.New("reading: no channels")
	}
	return nil
}

// Value returns the value for a channel.
func (r Reading) Value(channel string) (float64, bool) {
	for _, cv := range r.Channels {
		if cv.Channel == channel {
			return cv.Value, true
		}
	}
	return 0, false
}
