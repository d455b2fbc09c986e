package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// PlantConfig describes a single room driven by one heating or cooling unit.
type PlantConfig struct {
	InitialTemperature float64
	HeatLoss           HeatLossParams
	// Gain is the temperature change per second at full output. Negative
	// for a cooling unit.
	Gain float64
	Min  float64
	Max  float64
	Step float64
}

func (c PlantConfig) Validate() error {
	if err := c.HeatLoss.Validate(); err != nil {
		return err
	}
	if c.Max <= c.Min {
		return errors.New("plant output max must be greater than min")
	}
	if c.Step < 0 {
		return errors.New("plant output step must be >= 0")
	}
	return nil
}

// Plant is an in-process room model. It serves as both the temperature
// sensor and the actuator of a thermostat.
type Plant struct {
	cfg  PlantConfig
	loss *HeatLoss

	mu     sync.Mutex
	temp   float64
	output float64
	subs   map[int]func(thermostat.Reading)
	nextID int
}

func NewPlant(cfg PlantConfig) (*Plant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loss, err := NewHeatLoss(cfg.HeatLoss)
	if err != nil {
		return nil, err
	}
	return &Plant{
		cfg:    cfg,
		loss:   loss,
		temp:   cfg.InitialTemperature,
		output: cfg.Min,
		subs:   make(map[int]func(thermostat.Reading)),
	}, nil
}

func (p *Plant) Temperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temp
}

func (p *Plant) Output() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// Advance integrates the room temperature over dt and notifies subscribers.
func (p *Plant) Advance(dt time.Duration) float64 {
	p.mu.Lock()
	frac := (p.output - p.cfg.Min) / (p.cfg.Max - p.cfg.Min)
	p.temp += p.loss.DeltaTemperature(p.temp, dt) + p.cfg.Gain*frac*dt.Seconds()
	temp := p.temp
	subs := make([]func(thermostat.Reading), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	r := thermostat.FormatReading(temp)
	for _, fn := range subs {
		fn(r)
	}
	return temp
}

// Run advances the model every interval until ctx is done.
func (p *Plant) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Advance(interval)
		}
	}
}

func (p *Plant) Latest() (thermostat.Reading, bool) {
	return thermostat.FormatReading(p.Temperature()), true
}

func (p *Plant) Subscribe(ctx context.Context, fn func(thermostat.Reading)) error {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Plant) State(context.Context) (thermostat.ActuatorState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return thermostat.ActuatorState{
		Output:    p.output,
		Min:       p.cfg.Min,
		Max:       p.cfg.Max,
		Step:      p.cfg.Step,
		Available: true,
	}, nil
}

func (p *Plant) SetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = min(max(v, p.cfg.Min), p.cfg.Max)
}
