package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/pid"
	"github.com/Agrid-Dev/thermopid/internal/simulator"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

type SetpointCommand struct {
	Cycle int
	Value float64
}

// SimulateThermostat drives a heater against the simulated room, one control
// cycle per row, and writes the trajectory as CSV.
func SimulateThermostat(cycles int, filename string, gains pid.Gains, commands []SetpointCommand) error {
	const cycleTime = 30 * time.Second

	plant, err := simulator.NewPlant(simulator.PlantConfig{
		InitialTemperature: 12,
		HeatLoss:           simulator.HeatLossParams{OutdoorTemperature: 5, Coefficient: 1e-4},
		Gain:               0.01,
		Min:                0,
		Max:                100,
		Step:               1,
	})
	if err != nil {
		return fmt.Errorf("create plant: %w", err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	th, err := thermostat.New(thermostat.Config{
		DeviceID:  "sim",
		Gains:     gains,
		CycleTime: cycleTime,
		TargetTemp: func() *float64 {
			v := 20.0
			return &v
		}(),
		InitialMode: thermostat.ModeHeat,
	}, thermostat.Deps{
		Actuator: plant,
		Sensor:   plant,
		Logger:   logrus.NewEntry(quiet),
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		return fmt.Errorf("create thermostat: %w", err)
	}

	ctx := context.Background()
	if err := th.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"Cycle", "Temperature", "Setpoint", "Output", "P", "I", "D"}); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for i := 1; i <= cycles; i++ {
		for _, cmd := range commands {
			if cmd.Cycle == i {
				if err := th.SetSetpoint(cmd.Value); err != nil {
					return fmt.Errorf("update setpoint: %w", err)
				}
			}
		}

		now = now.Add(cycleTime)
		th.Tick(ctx)
		snap := th.Get()

		if err := w.Write([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%.2f", snap.CurrentTemperature),
			fmt.Sprintf("%.2f", snap.Setpoint),
			fmt.Sprintf("%.2f", snap.Output),
			fmt.Sprintf("%.3f", snap.PID.P),
			fmt.Sprintf("%.3f", snap.PID.I),
			fmt.Sprintf("%.3f", snap.PID.D),
		}); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}

		plant.Advance(cycleTime)
		r, _ := plant.Latest()
		_ = th.HandleReading(r)
	}
	return nil
}

func main() {
	var (
		cycles int
		out    string
		kp     float64
		ki     float64
		kd     float64
	)
	flag.IntVar(&cycles, "cycles", 1000, "number of control cycles")
	flag.StringVar(&out, "out", "thermopid.csv", "output CSV path")
	flag.Float64Var(&kp, "kp", 100, "proportional gain")
	flag.Float64Var(&ki, "ki", 0.1, "integral gain")
	flag.Float64Var(&kd, "kd", 0, "derivative gain")
	flag.Parse()

	commands := []SetpointCommand{{Cycle: 200, Value: 22}}
	if err := SimulateThermostat(cycles, out, pid.Gains{Kp: kp, Ki: ki, Kd: kd}, commands); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
