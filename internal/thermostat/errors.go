package thermostat

import "errors"

var (
	ErrInvalidMode         = errors.New("invalid hvac mode")
	ErrInvalidPreset       = errors.New("invalid preset mode")
	ErrInvalidSetpoint     = errors.New("invalid temperature setpoint")
	ErrInvalidMinMax       = errors.New("invalid min/max temperatures")
	ErrSensorInvalid       = errors.New("sensor reading invalid")
	ErrActuatorUnavailable = errors.New("actuator unavailable")
	ErrMissingActuator     = errors.New("an actuator is required")
)
