package thermostat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Used when the actuator does not report usable limits.
const (
	DefaultOutputMin  = 0.0
	DefaultOutputMax  = 100.0
	DefaultOutputStep = 0.01
)

// ActuatorDriver quantizes outputs to the actuator resolution and keeps the
// limits discovered from the actuator. The minimum is always "fully off".
type ActuatorDriver struct {
	act Actuator

	min, max, step float64
	discovered     bool

	output    float64
	available bool
	observed  bool

	lastCommand float64
	commanded   bool
}

func NewActuatorDriver(act Actuator) *ActuatorDriver {
	return &ActuatorDriver{act: act, step: DefaultOutputStep}
}

// Observe records what the actuator reported. Limits are taken from the
// first available observation and updated on later ones.
func (d *ActuatorDriver) Observe(s ActuatorState) error {
	d.observed = true
	d.available = s.Available
	if !s.Available {
		return ErrActuatorUnavailable
	}
	if math.IsNaN(s.Output) || math.IsInf(s.Output, 0) {
		d.available = false
		return fmt.Errorf("%w: output %v", ErrActuatorUnavailable, s.Output)
	}
	d.output = s.Output

	min, max := s.Min, s.Max
	if !(min < max) {
		min, max = DefaultOutputMin, DefaultOutputMax
	}
	step := s.Step
	if !(step > 0) || math.IsInf(step, 0) {
		step = DefaultOutputStep
	}
	d.min, d.max, d.step = min, max, step
	d.discovered = true
	return nil
}

func (d *ActuatorDriver) Discovered() bool { return d.discovered }

func (d *ActuatorDriver) Limits() (min, max, step float64, ok bool) {
	return d.min, d.max, d.step, d.discovered
}

// Output is the last output the actuator reported.
func (d *ActuatorDriver) Output() (float64, bool) {
	return d.output, d.observed && d.available
}

// LastCommand is the last value sent with Apply.
func (d *ActuatorDriver) LastCommand() (float64, bool) {
	return d.lastCommand, d.commanded
}

// Quantize rounds v to a multiple of the step inside [min, max]. Anything
// at or below min becomes min exactly.
func (d *ActuatorDriver) Quantize(v float64) float64 {
	if math.IsNaN(v) || v <= d.min {
		return d.min
	}
	q := math.Round(v/d.step) * d.step
	if q > d.max {
		q = math.Floor(d.max/d.step) * d.step
	}
	if q < d.min {
		q = math.Ceil(d.min/d.step) * d.step
	}
	if q > d.max || q < d.min {
		q = math.Min(math.Max(v, d.min), d.max)
	}
	return roundToStep(q, d.step)
}

// Apply sends the quantized value without waiting for the actuator.
func (d *ActuatorDriver) Apply(v float64) (float64, error) {
	if !d.discovered {
		return 0, fmt.Errorf("%w: limits not discovered", ErrActuatorUnavailable)
	}
	q := d.Quantize(v)
	d.act.SetValue(q)
	d.lastCommand = q
	d.commanded = true
	return q, nil
}

func (d *ActuatorDriver) TurnOff() (float64, error) {
	return d.Apply(d.min)
}

func (d *ActuatorDriver) IsActive() Activity {
	if !d.discovered || !d.observed || !d.available {
		return ActivityUnknown
	}
	if d.output > d.min {
		return ActivityActive
	}
	return ActivityIdle
}

// roundToStep strips float noise so that 0.1*3 renders as 0.3.
func roundToStep(v, step float64) float64 {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	decimals := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		decimals = len(s) - i - 1
	}
	if decimals > 10 {
		return v
	}
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
