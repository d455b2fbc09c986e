package thermostat

import (
	"context"
	"time"
)

// Reading is one sensor state change as delivered by a transport. Value is
// the raw state text ("21.5", "unavailable", ...).
type Reading struct {
	Value     string
	Available bool
}

// SensorSource delivers readings to fn until ctx is done.
type SensorSource interface {
	Subscribe(ctx context.Context, fn func(Reading)) error
}

// LatestReader is implemented by sources that can report their last known
// reading on demand. Used during recovery.
type LatestReader interface {
	Latest() (Reading, bool)
}

// ActuatorState is what the actuator reports about itself.
type ActuatorState struct {
	Output    float64
	Min       float64
	Max       float64
	Step      float64
	Available bool
}

// Actuator is the output device. SetValue must not block.
type Actuator interface {
	State(ctx context.Context) (ActuatorState, error)
	SetValue(v float64)
}

// PersistedState is the restart snapshot. Nil fields were never saved.
type PersistedState struct {
	Setpoint      *float64 `json:"setpoint,omitempty" yaml:"setpoint,omitempty"`
	Mode          *string  `json:"hvac_mode,omitempty" yaml:"hvac_mode,omitempty"`
	Preset        *string  `json:"preset_mode,omitempty" yaml:"preset_mode,omitempty"`
	SavedSetpoint *float64 `json:"saved_setpoint,omitempty" yaml:"saved_setpoint,omitempty"`
}

type StateStore interface {
	Load(ctx context.Context) (PersistedState, bool, error)
	Save(ctx context.Context, s PersistedState) error
}

// CycleRecord describes one completed control cycle.
type CycleRecord struct {
	DeviceID     string
	Start        time.Time
	Setpoint     float64
	Temperature  float64
	Output       float64
	Computed     bool
	ComputeError string
	Terms        PIDTerms
}

// CycleObserver receives a record after every cycle. Implementations must
// not block.
type CycleObserver interface {
	ObserveCycle(rec CycleRecord)
}
