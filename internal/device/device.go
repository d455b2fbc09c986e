package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// Runner is a background component bound to the device lifetime: a
// controller, an actuator writer, a telemetry sink or a simulated plant.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type component struct {
	name string
	r    Runner
}

// Device is one regulated zone: its thermostat plus everything that must
// live and die with it.
type Device struct {
	ID string
	T  *thermostat.Thermostat

	log     *logrus.Entry
	parts   []component
	closers []func()
}

func New(id string, t *thermostat.Thermostat, log *logrus.Entry) *Device {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Device{ID: id, T: t, log: log.WithField("device_id", id)}
}

// Attach registers a component started by Run.
func (d *Device) Attach(name string, r Runner) {
	d.parts = append(d.parts, component{name: name, r: r})
}

// OnClose registers a cleanup run after every component stopped, in reverse
// registration order.
func (d *Device) OnClose(fn func()) {
	d.closers = append(d.closers, fn)
}

// Run starts the thermostat and all attached components. The first failure
// stops everything. Cancellation of ctx is not reported as an error.
func (d *Device) Run(ctx context.Context) error {
	defer func() {
		for i := len(d.closers) - 1; i >= 0; i-- {
			d.closers[i]()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wrap("thermostat", d.T.Run(gctx))
	})
	for _, p := range d.parts {
		g.Go(func() error {
			d.log.WithField("component", p.name).Debug("starting")
			return wrap(p.name, p.r.Run(gctx))
		})
	}
	err := g.Wait()
	if err != nil {
		d.log.WithError(err).Error("device stopped")
	}
	return err
}

func wrap(name string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
