package device

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/thermopid/internal/pid"
	"github.com/Agrid-Dev/thermopid/internal/testutil"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newThermostat(t *testing.T) *thermostat.Thermostat {
	t.Helper()
	th, err := thermostat.New(thermostat.Config{
		DeviceID:  "room",
		Gains:     pid.Gains{Kp: 1},
		CycleTime: 10 * time.Millisecond,
	}, thermostat.Deps{
		Actuator: testutil.NewFakeActuator(),
		Sensor:   testutil.NewFakeSensor(),
		Logger:   quiet(),
	})
	require.NoError(t, err)
	return th
}

func TestNewDevice(t *testing.T) {
	th := newThermostat(t)
	d := New("room", th, quiet())
	assert.Equal(t, "room", d.ID)
	assert.Same(t, th, d.T)
}

func TestRunStopsOnCancel(t *testing.T) {
	d := New("room", newThermostat(t), quiet())

	started := make(chan struct{})
	d.Attach("probe", RunnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	var order []string
	d.OnClose(func() { order = append(order, "first") })
	d.OnClose(func() { order = append(order, "second") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("device did not stop")
	}
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRunComponentFailureStopsDevice(t *testing.T) {
	d := New("room", newThermostat(t), quiet())
	boom := errors.New("listen failed")
	d.Attach("http", RunnerFunc(func(context.Context) error { return boom }))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "http")
	case <-time.After(2 * time.Second):
		t.Fatal("device did not stop after component failure")
	}
}
