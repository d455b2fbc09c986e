package thermostat

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Run recovers state, subscribes to the sensor and fires a control cycle
// every CycleTime until ctx is canceled.
func (t *Thermostat) Run(ctx context.Context) error {
	if t.sensor != nil {
		go func() {
			err := t.sensor.Subscribe(ctx, func(r Reading) { _ = t.HandleReading(r) })
			if err != nil && !errors.Is(err, context.Canceled) {
				t.log.WithError(err).Error("sensor subscription ended")
			}
		}()
	}

	if err := t.Recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.cfg.CycleTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one control cycle. It returns false when the cycle was skipped.
func (t *Thermostat) Tick(ctx context.Context) bool {
	qctx, cancel := context.WithTimeout(ctx, ioTimeout)
	state, serr := t.act.State(qctx)
	cancel()

	t.mu.Lock()
	t.observeLocked(state, serr)

	if t.mode == ModeOff {
		t.mu.Unlock()
		return false
	}
	if !t.pv.valid {
		t.mu.Unlock()
		t.log.Warn("no valid temperature reading, skipping cycle")
		return false
	}

	t.engageLocked()

	start := t.now()
	computed, cerr := t.pid.Compute(t.pv.value)
	if cerr != nil && t.pid.InAuto() {
		t.log.WithError(cerr).Warn("pid computation failed")
	}

	// Resend even an unchanged output so a dropped command heals itself.
	var sent float64
	if t.pid.InAuto() {
		var aerr error
		sent, aerr = t.driver.Apply(t.pid.Output())
		if aerr != nil {
			t.log.WithError(aerr).Warn("could not drive actuator")
		}
	}
	t.lastCycle = start

	rec := CycleRecord{
		DeviceID:    t.cfg.DeviceID,
		Start:       start,
		Setpoint:    t.pid.Setpoint(),
		Temperature: t.pv.value,
		Output:      sent,
		Computed:    computed,
		Terms:       t.pid.Terms(),
	}
	if cerr != nil {
		rec.ComputeError = cerr.Error()
	}
	observers := t.observers
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"setpoint":    rec.Setpoint,
		"temperature": rec.Temperature,
		"output":      rec.Output,
		"computed":    computed,
	}).Debug("control cycle")

	for _, o := range observers {
		o.ObserveCycle(rec)
	}
	return true
}
