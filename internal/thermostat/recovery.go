package thermostat

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/pid"
)

// Recover rebuilds setpoint, mode and preset from the state store (or safe
// defaults) and syncs with the actuator and sensor. Only the first call has
// an effect.
func (t *Thermostat) Recover(ctx context.Context) error {
	t.mu.Lock()
	done := t.recovered
	t.mu.Unlock()
	if done {
		return nil
	}

	var (
		saved PersistedState
		found bool
	)
	if t.store != nil {
		var err error
		saved, found, err = t.store.Load(ctx)
		if err != nil {
			t.log.WithError(err).Warn("could not load saved state, using defaults")
			found = false
		}
	}

	qctx, cancel := context.WithTimeout(ctx, ioTimeout)
	state, serr := t.act.State(qctx)
	cancel()

	var (
		latest     Reading
		haveLatest bool
	)
	if lr, ok := t.sensor.(LatestReader); ok {
		latest, haveLatest = lr.Latest()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recovered {
		return nil
	}
	t.recovered = true

	switch {
	case found && saved.Setpoint != nil && finite(*saved.Setpoint):
		t.pid.SetSetpoint(*saved.Setpoint)
	default:
		t.pid.SetSetpoint(t.defaultSetpoint())
		t.log.WithField("setpoint", t.pid.Setpoint()).Warn("no saved target temperature, using default")
	}

	mode := ModeOff
	switch {
	case t.cfg.InitialMode != ModeUnknown:
		mode = t.cfg.InitialMode
	case found && saved.Mode != nil:
		m, err := ParseMode(*saved.Mode)
		if err == nil && (m == ModeOff || m == t.cfg.Orientation.ActiveMode()) {
			mode = m
		} else {
			t.log.WithField("hvac_mode", *saved.Mode).Warn("discarding saved hvac mode")
		}
	}

	t.preset = PresetNone
	t.savedSetpoint = t.fallbackSavedSetpoint()
	if found && saved.Preset != nil {
		p, err := ParsePreset(*saved.Preset)
		if err == nil && t.supportsPreset(p) {
			t.preset = p
			if p == PresetAway && saved.SavedSetpoint != nil && finite(*saved.SavedSetpoint) {
				t.savedSetpoint = *saved.SavedSetpoint
			}
		} else {
			t.log.WithField("preset_mode", *saved.Preset).Warn("discarding saved preset mode")
		}
	}

	// A reading handled while recovery was waiting on I/O is newer.
	if haveLatest && !t.pv.valid {
		if _, err := t.pv.ingest(latest, t.now()); err != nil {
			t.log.WithError(err).Warn("ignoring initial sensor state")
		}
	}
	t.observeLocked(state, serr)

	t.mode = mode
	if mode != ModeOff {
		t.activeSince = t.now()
	}
	if mode == ModeOff {
		t.pid.SetMode(pid.Manual, t.pv.value, t.pid.Output())
		// Only act on a positive observation; an unknown actuator is left alone.
		if t.driver.IsActive() == ActivityActive {
			t.log.Warn("hvac mode is off but the actuator is on, turning it off")
			if _, err := t.driver.TurnOff(); err != nil {
				t.log.WithError(err).Warn("could not turn actuator off")
			}
		}
	} else {
		t.engageLocked()
	}

	t.log.WithFields(logrus.Fields{
		"setpoint":    t.pid.Setpoint(),
		"hvac_mode":   t.mode.String(),
		"preset_mode": t.preset.String(),
		"pid_mode":    t.pid.Mode().String(),
	}).Info("state recovered")
	return nil
}

func (t *Thermostat) fallbackSavedSetpoint() float64 {
	if t.cfg.TargetTemp != nil {
		return *t.cfg.TargetTemp
	}
	if t.cfg.AwayTemp != nil {
		return *t.cfg.AwayTemp
	}
	return t.defaultSetpoint()
}
