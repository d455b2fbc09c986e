package thermostat

import "fmt"

// HVACMode is an integer enum.
type HVACMode int

const (
	ModeUnknown HVACMode = iota
	ModeOff
	ModeHeat
	ModeCool
)

func (m HVACMode) Valid() bool {
	return m == ModeOff || m == ModeHeat || m == ModeCool
}

func (m HVACMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (HVACMode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "heat":
		return ModeHeat, nil
	case "cool":
		return ModeCool, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Orientation is the physical effect of the device when it is on. It is
// fixed per device.
type Orientation int

const (
	Heater Orientation = iota
	Cooler
)

func (o Orientation) String() string {
	if o == Cooler {
		return "cool"
	}
	return "heat"
}

// ActiveMode is the only non-off mode the device accepts.
func (o Orientation) ActiveMode() HVACMode {
	if o == Cooler {
		return ModeCool
	}
	return ModeHeat
}

func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "", "heat":
		return Heater, nil
	case "cool":
		return Cooler, nil
	default:
		return Heater, fmt.Errorf("invalid ac mode: %q", s)
	}
}

// Preset is an integer enum.
type Preset int

const (
	PresetUnknown Preset = iota
	PresetNone
	PresetAway
)

func (p Preset) String() string {
	switch p {
	case PresetNone:
		return "none"
	case PresetAway:
		return "away"
	default:
		return "unknown"
	}
}

func ParsePreset(s string) (Preset, error) {
	switch s {
	case "none":
		return PresetNone, nil
	case "away":
		return PresetAway, nil
	default:
		return PresetUnknown, fmt.Errorf("%w: %q", ErrInvalidPreset, s)
	}
}

// HVACAction is what the device is doing right now.
type HVACAction int

const (
	ActionOff HVACAction = iota
	ActionIdle
	ActionHeating
	ActionCooling
)

func (a HVACAction) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionHeating:
		return "heating"
	case ActionCooling:
		return "cooling"
	default:
		return "off"
	}
}

// Activity is a tri-state answer to "is the actuator above its off value".
type Activity int

const (
	ActivityUnknown Activity = iota
	ActivityIdle
	ActivityActive
)

func (a Activity) String() string {
	switch a {
	case ActivityIdle:
		return "idle"
	case ActivityActive:
		return "active"
	default:
		return "unknown"
	}
}
