package testutil

import (
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// FakeThermostatService is a reusable fake implementing ports.ThermostatService.
// Put ONLY what multiple test packages need here.
type FakeThermostatService struct {
	S thermostat.Snapshot

	SetSetpointCalled bool
	SetSetpointArg    float64
	SetSetpointErr    error

	SetModeCalled bool
	SetModeArg    thermostat.HVACMode
	SetModeErr    error

	SetPresetCalled bool
	SetPresetArg    thermostat.Preset
	SetPresetErr    error

	HealthErr error
}

func NewFakeThermostatService() *FakeThermostatService {
	return &FakeThermostatService{
		S: thermostat.Snapshot{
			DeviceID:           "default",
			Name:               "PID Thermostat",
			Setpoint:           19,
			CurrentTemperature: 10,
			TemperatureValid:   true,
			Mode:               thermostat.ModeOff,
			Modes:              []thermostat.HVACMode{thermostat.ModeOff, thermostat.ModeHeat},
			Action:             thermostat.ActionOff,
			Preset:             thermostat.PresetNone,
			Presets:            []thermostat.Preset{thermostat.PresetNone, thermostat.PresetAway},
			MinTemp:            7,
			MaxTemp:            35,
		},
	}
}

func (f *FakeThermostatService) Get() thermostat.Snapshot { return f.S }

func (f *FakeThermostatService) Healthy() error { return f.HealthErr }

func (f *FakeThermostatService) SetSetpoint(v float64) error {
	f.SetSetpointCalled = true
	f.SetSetpointArg = v
	if f.SetSetpointErr != nil {
		return f.SetSetpointErr
	}
	f.S.Setpoint = v
	return nil
}

func (f *FakeThermostatService) SetMode(m thermostat.HVACMode) error {
	f.SetModeCalled = true
	f.SetModeArg = m
	if f.SetModeErr != nil {
		return f.SetModeErr
	}
	f.S.Mode = m
	return nil
}

func (f *FakeThermostatService) SetPreset(p thermostat.Preset) error {
	f.SetPresetCalled = true
	f.SetPresetArg = p
	if f.SetPresetErr != nil {
		return f.SetPresetErr
	}
	f.S.Preset = p
	return nil
}
