package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name   string
		params HeatLossParams
		want   error
	}{
		{name: "valid", params: HeatLossParams{OutdoorTemperature: 10, Coefficient: 5}},
		{name: "no loss", params: HeatLossParams{OutdoorTemperature: 10}},
		{name: "negative coefficient", params: HeatLossParams{OutdoorTemperature: 10, Coefficient: -5}, want: ErrNegativeHeatLossCoefficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.params.Validate(), tt.want)
		})
	}
}

func TestHeatLossDeltaTemperature(t *testing.T) {
	tests := []struct {
		name        string
		outdoorTemp float64
		indoorTemp  float64
		want        func(float64) bool
	}{
		{"colder outside", 5, 20, func(d float64) bool { return d < 0 }},
		{"warmer outside", 30, 20, func(d float64) bool { return d > 0 }},
		{"balanced", 20, 20, func(d float64) bool { return d == 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeatLoss(HeatLossParams{OutdoorTemperature: tt.outdoorTemp, Coefficient: 5})
			require.NoError(t, err)
			got := h.DeltaTemperature(tt.indoorTemp, time.Second)
			assert.True(t, tt.want(got), "got %v", got)
		})
	}
}

func heaterPlant(t *testing.T) *Plant {
	t.Helper()
	p, err := NewPlant(PlantConfig{
		InitialTemperature: 10,
		HeatLoss:           HeatLossParams{OutdoorTemperature: 10},
		Gain:               0.1,
		Min:                0,
		Max:                100,
		Step:               1,
	})
	require.NoError(t, err)
	return p
}

func TestPlantValidation(t *testing.T) {
	_, err := NewPlant(PlantConfig{Min: 10, Max: 10})
	assert.Error(t, err)
	_, err = NewPlant(PlantConfig{Max: 1, HeatLoss: HeatLossParams{Coefficient: -1}})
	assert.ErrorIs(t, err, ErrNegativeHeatLossCoefficient)
}

func TestPlantActsAsActuator(t *testing.T) {
	p := heaterPlant(t)
	st, err := p.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermostat.ActuatorState{Output: 0, Min: 0, Max: 100, Step: 1, Available: true}, st)

	p.SetValue(150)
	assert.Equal(t, 100.0, p.Output())
	p.SetValue(-3)
	assert.Equal(t, 0.0, p.Output())
}

func TestPlantAdvance(t *testing.T) {
	p := heaterPlant(t)

	// Off and no heat loss: temperature holds.
	assert.Equal(t, 10.0, p.Advance(10*time.Second))

	p.SetValue(50)
	assert.InDelta(t, 10.5, p.Advance(10*time.Second), 1e-9)

	r, ok := p.Latest()
	assert.True(t, ok)
	assert.Equal(t, "10.5", r.Value)
}

func TestPlantSubscribe(t *testing.T) {
	p := heaterPlant(t)
	p.SetValue(100)

	var (
		mu  sync.Mutex
		got []thermostat.Reading
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Subscribe(ctx, func(r thermostat.Reading) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.subs) == 1
	}, time.Second, time.Millisecond)

	p.Advance(time.Second)
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "10.1", got[0].Value)
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, p.subs)
}
