package thermostat

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/pid"
)

const (
	DefaultMinTemp   = 7.0
	DefaultMaxTemp   = 35.0
	DefaultCycleTime = 30 * time.Second

	// Bound on synchronous actuator queries and store writes.
	ioTimeout = 5 * time.Second
)

// PIDTerms is the diagnostic view of the PID engine.
type PIDTerms = pid.Terms

type Config struct {
	DeviceID    string
	Name        string
	Orientation Orientation
	Gains       pid.Gains
	CycleTime   time.Duration

	MinTemp float64
	MaxTemp float64

	// Optional.
	TargetTemp  *float64
	AwayTemp    *float64
	InitialMode HVACMode
}

func (c *Config) Validate() error {
	if c.CycleTime <= 0 {
		c.CycleTime = DefaultCycleTime
	}
	if c.MinTemp == 0 && c.MaxTemp == 0 {
		c.MinTemp, c.MaxTemp = DefaultMinTemp, DefaultMaxTemp
	}
	if !(c.MinTemp < c.MaxTemp) {
		return ErrInvalidMinMax
	}
	if c.InitialMode != ModeUnknown && c.InitialMode != ModeOff && c.InitialMode != c.Orientation.ActiveMode() {
		return fmt.Errorf("%w: initial mode %s on a %s device", ErrInvalidMode, c.InitialMode, c.Orientation)
	}
	for _, v := range []*float64{c.TargetTemp, c.AwayTemp} {
		if v != nil && !finite(*v) {
			return ErrInvalidSetpoint
		}
	}
	return nil
}

// Deps are the collaborators of one controller, resolved once.
type Deps struct {
	Actuator  Actuator
	Sensor    SensorSource
	Store     StateStore
	Observers []CycleObserver
	Logger    *logrus.Entry
	Clock     func() time.Time
}

type Snapshot struct {
	DeviceID string
	Name     string

	Setpoint           float64
	CurrentTemperature float64
	TemperatureValid   bool
	TemperatureAt      time.Time

	Mode    HVACMode
	Modes   []HVACMode
	Action  HVACAction
	Preset  Preset
	Presets []Preset

	MinTemp float64
	MaxTemp float64

	Output         float64
	LastCycleStart time.Time
	PID            PIDTerms
}

// Thermostat is the single control authority for one device. Every entry
// point is serialized on mu.
type Thermostat struct {
	cfg Config
	log *logrus.Entry
	now func() time.Time

	act       Actuator
	sensor    SensorSource
	store     StateStore
	observers []CycleObserver

	// saveMu orders snapshot writes without holding mu during I/O.
	saveMu sync.Mutex

	mu            sync.Mutex
	pid           *pid.Controller
	driver        *ActuatorDriver
	pv            processVariable
	mode          HVACMode
	preset        Preset
	savedSetpoint float64
	lastCycle     time.Time
	activeSince   time.Time
	recovered     bool
}

func New(cfg Config, deps Deps) (*Thermostat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Actuator == nil {
		return nil, ErrMissingActuator
	}
	dir := pid.Direct
	if cfg.Orientation == Cooler {
		dir = pid.Reverse
	}
	ctrl, err := pid.New(cfg.Gains, dir, cfg.CycleTime)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	ctrl.SetClock(deps.Clock)
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	t := &Thermostat{
		cfg:       cfg,
		log:       deps.Logger.WithFields(logrus.Fields{"component": "thermostat", "device_id": cfg.DeviceID}),
		now:       deps.Clock,
		act:       deps.Actuator,
		sensor:    deps.Sensor,
		store:     deps.Store,
		observers: deps.Observers,
		pid:       ctrl,
		driver:    NewActuatorDriver(deps.Actuator),
		mode:      ModeOff,
		preset:    PresetNone,
	}
	ctrl.SetSetpoint(t.defaultSetpoint())
	return t, nil
}

func (t *Thermostat) Config() Config { return t.cfg }

func (t *Thermostat) presets() []Preset {
	if t.cfg.AwayTemp != nil {
		return []Preset{PresetNone, PresetAway}
	}
	return []Preset{PresetNone}
}

func (t *Thermostat) supportsPreset(p Preset) bool {
	for _, v := range t.presets() {
		if v == p {
			return true
		}
	}
	return false
}

// defaultSetpoint is the configured target, else the bound a device of
// this orientation can never overshoot.
func (t *Thermostat) defaultSetpoint() float64 {
	if t.cfg.TargetTemp != nil {
		return *t.cfg.TargetTemp
	}
	if t.cfg.Orientation == Cooler {
		return t.cfg.MaxTemp
	}
	return t.cfg.MinTemp
}

func (t *Thermostat) Get() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Thermostat) snapshotLocked() Snapshot {
	out, _ := t.driver.LastCommand()
	return Snapshot{
		DeviceID:           t.cfg.DeviceID,
		Name:               t.cfg.Name,
		Setpoint:           t.pid.Setpoint(),
		CurrentTemperature: t.pv.value,
		TemperatureValid:   t.pv.valid,
		TemperatureAt:      t.pv.at,
		Mode:               t.mode,
		Modes:              []HVACMode{ModeOff, t.cfg.Orientation.ActiveMode()},
		Action:             t.actionLocked(),
		Preset:             t.preset,
		Presets:            t.presets(),
		MinTemp:            t.cfg.MinTemp,
		MaxTemp:            t.cfg.MaxTemp,
		Output:             out,
		LastCycleStart:     t.lastCycle,
		PID:                t.pid.Terms(),
	}
}

func (t *Thermostat) actionLocked() HVACAction {
	if t.mode == ModeOff {
		return ActionOff
	}
	if t.driver.IsActive() != ActivityActive {
		return ActionIdle
	}
	if t.cfg.Orientation == Cooler {
		return ActionCooling
	}
	return ActionHeating
}

// Healthy reports whether the control loop is cycling. An OFF device is
// always healthy.
func (t *Thermostat) Healthy() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == ModeOff {
		return nil
	}
	ref := t.activeSince
	if t.lastCycle.After(ref) {
		ref = t.lastCycle
	}
	if age := t.now().Sub(ref); age > 3*t.cfg.CycleTime {
		if t.lastCycle.Before(t.activeSince) {
			return fmt.Errorf("no control cycle for %s since switching on", age.Round(time.Second))
		}
		return fmt.Errorf("last control cycle %s ago", age.Round(time.Second))
	}
	return nil
}

// SetSetpoint is always accepted; the new target is picked up on the next
// cycle.
func (t *Thermostat) SetSetpoint(sp float64) error {
	if !finite(sp) {
		return fmt.Errorf("%w: %v", ErrInvalidSetpoint, sp)
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.pid.SetSetpoint(sp)
	st := t.persistedLocked()
	t.mu.Unlock()

	t.log.WithField("setpoint", sp).Info("setpoint changed")
	t.persist(st)
	return nil
}

// SetMode switches between OFF and the device's active mode.
func (t *Thermostat) SetMode(m HVACMode) error {
	if m != ModeOff && m != t.cfg.Orientation.ActiveMode() {
		err := fmt.Errorf("%w: %s not supported by a %s device", ErrInvalidMode, m, t.cfg.Orientation)
		t.log.WithError(err).Warn("hvac mode rejected")
		return err
	}
	state, serr := t.queryActuator()

	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.observeLocked(state, serr)
	t.applyModeLocked(m)
	st := t.persistedLocked()
	t.mu.Unlock()

	t.persist(st)
	return nil
}

func (t *Thermostat) applyModeLocked(m HVACMode) {
	prev := t.mode
	t.mode = m
	if prev == ModeOff && m != ModeOff {
		t.activeSince = t.now()
	}
	if m == ModeOff {
		t.pid.SetMode(pid.Manual, t.pv.value, t.pid.Output())
		if _, err := t.driver.TurnOff(); err != nil {
			t.log.WithError(err).Warn("could not turn actuator off")
		}
	} else {
		t.engageLocked()
	}
	if prev != m {
		t.log.WithFields(logrus.Fields{"from": prev.String(), "to": m.String()}).Info("hvac mode changed")
	}
}

// engageLocked moves the PID to Automatic once the device is on and both a
// valid temperature and an actuator output are known.
func (t *Thermostat) engageLocked() {
	if t.mode == ModeOff || t.pid.InAuto() {
		return
	}
	out, haveOut := t.driver.Output()
	if !t.pv.valid || !haveOut || !t.driver.Discovered() {
		t.log.WithFields(logrus.Fields{
			"temperature_valid": t.pv.valid,
			"output_known":      haveOut,
		}).Debug("pid stays manual")
		return
	}
	t.pid.SetMode(pid.Automatic, t.pv.value, out)
	t.log.WithFields(logrus.Fields{"temperature": t.pv.value, "output": out}).Info("pid engaged")
}

// SetPreset activates or clears the away override.
func (t *Thermostat) SetPreset(p Preset) error {
	if !t.supportsPreset(p) {
		err := fmt.Errorf("%w: %s, must be one of %v", ErrInvalidPreset, p, t.presets())
		t.log.WithError(err).Warn("preset mode rejected")
		return err
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if p == t.preset {
		t.mu.Unlock()
		return nil
	}
	switch p {
	case PresetAway:
		t.savedSetpoint = t.pid.Setpoint()
		t.pid.SetSetpoint(*t.cfg.AwayTemp)
	case PresetNone:
		t.pid.SetSetpoint(t.savedSetpoint)
	}
	t.preset = p
	sp := t.pid.Setpoint()
	st := t.persistedLocked()
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"preset": p.String(), "setpoint": sp}).Info("preset changed")
	t.persist(st)
	return nil
}

// HandleReading ingests one sensor update. It never triggers a control
// computation.
func (t *Thermostat) HandleReading(r Reading) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.pv.ingest(r, t.now()); err != nil {
		t.log.WithError(err).Warn("ignoring sensor update")
		return err
	}
	return nil
}

func (t *Thermostat) queryActuator() (ActuatorState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	return t.act.State(ctx)
}

func (t *Thermostat) observeLocked(s ActuatorState, err error) {
	if err == nil {
		err = t.driver.Observe(s)
	}
	if err != nil {
		t.log.WithError(err).Warn("could not read actuator state")
		return
	}
	min, max, _, _ := t.driver.Limits()
	if cmin, cmax := t.pid.Limits(); !t.pid.HasLimits() || cmin != min || cmax != max {
		if err := t.pid.SetOutputLimits(min, max); err != nil {
			t.log.WithError(err).Warn("rejecting actuator limits")
		}
	}
}

func (t *Thermostat) persistedLocked() PersistedState {
	sp := t.pid.Setpoint()
	mode := t.mode.String()
	preset := t.preset.String()
	st := PersistedState{Setpoint: &sp, Mode: &mode, Preset: &preset}
	if t.preset == PresetAway {
		saved := t.savedSetpoint
		st.SavedSetpoint = &saved
	}
	return st
}

func (t *Thermostat) persist(st PersistedState) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := t.store.Save(ctx, st); err != nil {
		t.log.WithError(err).Warn("could not save state")
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
