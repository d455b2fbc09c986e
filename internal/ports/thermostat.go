package ports

import "github.com/Agrid-Dev/thermopid/internal/thermostat"

// ThermostatService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type ThermostatService interface {
	Get() thermostat.Snapshot
	Healthy() error
	SetSetpoint(float64) error
	SetMode(thermostat.HVACMode) error
	SetPreset(thermostat.Preset) error
}
