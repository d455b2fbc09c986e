package pid

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNotReady       = errors.New("pid: output limits not set")
	ErrBadElapsedTime = errors.New("pid: elapsed time must be positive")
	ErrInvalidLimits  = errors.New("pid: output min must be lower than output max")
	ErrInvalidGains   = errors.New("pid: gains must be finite and greater or equal to zero")
	ErrInvalidPeriod  = errors.New("pid: period must be positive")
)

// Direction selects whether a positive error drives the output up (Direct)
// or down (Reverse).
type Direction int

const (
	Direct Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "direct"
}

// Mode is the PID operating state.
type Mode int

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "automatic"
	}
	return "manual"
}

type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

func (g Gains) Validate() error {
	for _, k := range []float64{g.Kp, g.Ki, g.Kd} {
		if k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
			return ErrInvalidGains
		}
	}
	return nil
}

// Terms is a diagnostic view of the controller internals.
type Terms struct {
	Gains
	Direction Direction
	Mode      Mode
	P         float64
	I         float64
	D         float64
	Output    float64
	OutputMin float64
	OutputMax float64
	HasLimits bool
}

// Controller computes a clamped PID output with the derivative taken on the
// measurement and an integral bounded by the output limits.
//
// Not safe for concurrent use.
type Controller struct {
	gains     Gains
	direction Direction
	period    time.Duration

	setpoint float64

	outMin    float64
	outMax    float64
	hasLimits bool

	mode      Mode
	pTerm     float64
	iTerm     float64
	dTerm     float64
	output    float64
	lastInput float64
	lastTime  time.Time
	havePrev  bool

	now func() time.Time
}

// New returns a controller in Manual mode. period is the nominal cycle
// duration used as dt for the first compute after entering Automatic.
func New(gains Gains, direction Direction, period time.Duration) (*Controller, error) {
	if err := gains.Validate(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return &Controller{
		gains:     gains,
		direction: direction,
		period:    period,
		now:       time.Now,
	}, nil
}

// SetClock replaces the wall clock. Intended for tests and simulations.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Controller) Setpoint() float64 { return c.setpoint }

func (c *Controller) SetSetpoint(sp float64) {
	c.setpoint = sp
}

func (c *Controller) Output() float64 { return c.output }

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) InAuto() bool { return c.mode == Automatic }

func (c *Controller) HasLimits() bool { return c.hasLimits }

func (c *Controller) Limits() (min, max float64) { return c.outMin, c.outMax }

// SetOutputLimits sets the output range and pulls the current output and
// integral inside it.
func (c *Controller) SetOutputLimits(min, max float64) error {
	if !(min < max) {
		return ErrInvalidLimits
	}
	c.outMin, c.outMax = min, max
	c.hasLimits = true
	c.output = c.clamp(c.output)
	c.iTerm = c.clamp(c.iTerm)
	return nil
}

// SetMode switches the operating state. On a Manual to Automatic transition
// the integral is seeded from output and the derivative history from input,
// so the first computed output continues from where the actuator is.
func (c *Controller) SetMode(mode Mode, input, output float64) {
	if mode == Automatic && c.mode == Manual {
		c.iTerm = output
		if c.hasLimits {
			c.iTerm = c.clamp(c.iTerm)
		}
		c.output = c.iTerm
		c.lastInput = input
		c.havePrev = false
	}
	c.mode = mode
}

// Compute runs one PID step for the given process variable. It reports
// whether a fresh output was produced; in Manual mode it is a no-op.
func (c *Controller) Compute(input float64) (bool, error) {
	if c.mode != Automatic {
		return false, nil
	}
	if !c.hasLimits {
		return false, ErrNotReady
	}

	now := c.now()
	dt := c.period
	if c.havePrev {
		dt = now.Sub(c.lastTime)
	}
	if dt <= 0 {
		return false, ErrBadElapsedTime
	}
	sec := dt.Seconds()

	sign := 1.0
	if c.direction == Reverse {
		sign = -1.0
	}
	err := sign * (c.setpoint - input)

	c.pTerm = c.gains.Kp * err

	c.iTerm += c.gains.Ki * err * sec
	// The integral alone never leaves the output range, and P+I never
	// exceeds it while the integral has room to give way.
	c.iTerm = c.clamp(c.iTerm)
	if c.pTerm+c.iTerm > c.outMax {
		c.iTerm = math.Max(c.outMax-c.pTerm, c.outMin)
	} else if c.pTerm+c.iTerm < c.outMin {
		c.iTerm = math.Min(c.outMin-c.pTerm, c.outMax)
	}

	c.dTerm = -sign * c.gains.Kd * (input - c.lastInput) / sec

	c.output = c.clamp(c.pTerm + c.iTerm + c.dTerm)
	c.lastInput = input
	c.lastTime = now
	c.havePrev = true
	return true, nil
}

func (c *Controller) Terms() Terms {
	return Terms{
		Gains:     c.gains,
		Direction: c.direction,
		Mode:      c.mode,
		P:         c.pTerm,
		I:         c.iTerm,
		D:         c.dTerm,
		Output:    c.output,
		OutputMin: c.outMin,
		OutputMax: c.outMax,
		HasLimits: c.hasLimits,
	}
}

func (c *Controller) clamp(v float64) float64 {
	if !c.hasLimits {
		return v
	}
	if v < c.outMin {
		return c.outMin
	}
	if v > c.outMax {
		return c.outMax
	}
	return v
}
