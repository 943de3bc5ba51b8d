package monitoring

import "errors"

// InstrumentType identifies the kind of instrument a node carries.
type InstrumentType string

const (
	InstrumentTiltmeter   InstrumentType = "tiltmeter"
	InstrumentSeismograph InstrumentType = "seismograph"
)

// Valid returns true when the instrument type is supported.
func (t InstrumentType) Valid() bool {
	switch t {
	case InstrumentTiltmeter, InstrumentSeismograph:
		return true
	default:
		return false
	}
}

// Node identifies a physical instrument being monitored.
type Node struct {
	ID         string
	Instrument InstrumentType
	Name       string
}

// DisplayName returns the human-facing name, falling back to the node ID.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Validate checks node invariants.
func (n Node) Validate() error {
	if n.ID == "" {
		return errors.New("node: empty id")
	}
	if !n.Instrument.Valid() {
		return errors.New("node: invalid instrument type")
	}
	return nil
}
