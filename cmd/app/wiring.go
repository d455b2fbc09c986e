package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	httpctrl "github.com/Agrid-Dev/thermopid/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/thermopid/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/thermopid/internal/controllers/mqtt"
	"github.com/Agrid-Dev/thermopid/internal/device"
	"github.com/Agrid-Dev/thermopid/internal/metrics"
	"github.com/Agrid-Dev/thermopid/internal/simulator"
	"github.com/Agrid-Dev/thermopid/internal/store/filestore"
	"github.com/Agrid-Dev/thermopid/internal/store/sqlitestore"
	"github.com/Agrid-Dev/thermopid/internal/telemetry/kafkasink"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
	"github.com/Agrid-Dev/thermopid/internal/transport/modbusio"
	"github.com/Agrid-Dev/thermopid/internal/transport/mqttio"
	"github.com/Agrid-Dev/thermopid/internal/transport/natsio"
)

// NewLogger builds the process logger from the log section.
func NewLogger(c LogConfig) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	l.SetLevel(lvl)
	switch strings.ToLower(c.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log.format: unsupported %q", c.Format)
	}
	return l, nil
}

type part struct {
	name string
	r    device.Runner
}

// Build resolves every collaborator named by cfg and returns a device ready
// to run. Connections opened here are released by the device on exit, or
// immediately when Build fails.
func Build(cfg Config, log *logrus.Entry) (dev *device.Device, err error) {
	tc, err := cfg.ThermostatConfig()
	if err != nil {
		return nil, err
	}
	log = log.WithField("device_id", cfg.DeviceID)

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()
	var parts []part
	attach := func(name string, r device.Runner) {
		parts = append(parts, part{name, r})
	}

	deps := thermostat.Deps{Logger: log}

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	deps.Store = store

	if cfg.Sensor.Source == "sim" {
		plant, err := buildPlant(cfg.Simulator)
		if err != nil {
			return nil, err
		}
		deps.Sensor, deps.Actuator = plant, plant
		attach("simulator", device.RunnerFunc(func(ctx context.Context) error {
			return plant.Run(ctx, cfg.Simulator.Tick)
		}))
	} else {
		if deps.Sensor, err = buildSensor(cfg, log, &closers); err != nil {
			return nil, err
		}
		act, runner, err := buildActuator(cfg, log, &closers)
		if err != nil {
			return nil, err
		}
		deps.Actuator = act
		if runner != nil {
			attach("actuator", runner)
		}
	}

	var m *metrics.Metrics
	if cfg.Controllers.HTTP.Enabled && cfg.Controllers.HTTP.Metrics {
		m = metrics.New()
		deps.Observers = append(deps.Observers, m)
	}
	if kc := cfg.Telemetry.Kafka; kc.Enabled {
		sink, err := kafkasink.New(kafkasink.Config{
			Brokers:      kc.Brokers,
			Topic:        kc.Topic,
			BatchTimeout: kc.BatchTimeout,
			Buffer:       kc.Buffer,
		}, log)
		if err != nil {
			return nil, err
		}
		deps.Observers = append(deps.Observers, sink)
		attach("kafka", sink)
	}

	th, err := thermostat.New(tc, deps)
	if err != nil {
		return nil, err
	}

	if c := cfg.Controllers.HTTP; c.Enabled {
		attach("http", httpctrl.New(th, c.Addr, cfg.DeviceID, m, log))
	}
	if c := cfg.Controllers.MQTT; c.Enabled {
		ctrl, err := mqttctrl.New(th, mqttctrl.Config{
			DeviceID:        cfg.DeviceID,
			BrokerURL:       c.BrokerURL,
			ClientID:        c.ClientID,
			BaseTopic:       c.BaseTopic,
			QoS:             c.QoS,
			RetainSnapshot:  c.RetainSnapshot,
			PublishInterval: c.PublishInterval,
			Username:        c.Username,
			Password:        c.Password,
		}, log)
		if err != nil {
			return nil, err
		}
		attach("mqtt", ctrl)
	}
	if c := cfg.Controllers.Modbus; c.Enabled {
		ctrl, err := modbusctrl.New(th, modbusctrl.Config{
			DeviceID: cfg.DeviceID,
			Addr:     c.Addr,
			UnitID:   c.UnitID,
		}, log)
		if err != nil {
			return nil, err
		}
		attach("modbus", ctrl)
	}

	dev = device.New(cfg.DeviceID, th, log)
	for _, p := range parts {
		dev.Attach(p.name, p.r)
	}
	for _, fn := range closers {
		dev.OnClose(fn)
	}
	return dev, nil
}

func buildStore(cfg Config) (thermostat.StateStore, func(), error) {
	switch cfg.Store.Backend {
	case "file":
		s, err := filestore.New(cfg.Store.Path)
		return s, nil, err
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Store.Path, cfg.DeviceID)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, nil
	}
}

func buildPlant(c SimulatorConfig) (*simulator.Plant, error) {
	return simulator.NewPlant(simulator.PlantConfig{
		InitialTemperature: c.InitialTemperature,
		HeatLoss: simulator.HeatLossParams{
			OutdoorTemperature: c.OutdoorTemperature,
			Coefficient:        c.HeatLossCoefficient,
		},
		Gain: c.Gain,
		Min:  c.Min,
		Max:  c.Max,
		Step: c.Step,
	})
}

func buildSensor(cfg Config, log *logrus.Entry, closers *[]func()) (thermostat.SensorSource, error) {
	switch cfg.Sensor.Source {
	case "mqtt":
		c := cfg.Sensor.MQTT
		conn, err := mqttio.Dial(mqttio.ClientConfig{
			BrokerURL: c.BrokerURL,
			ClientID:  clientID(c.ClientID, cfg.DeviceID, "sensor"),
			Username:  c.Username,
			Password:  c.Password,
		}, log)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, conn.Close)
		s, err := mqttio.NewSensor(conn, mqttio.SensorConfig{Topic: c.Topic, QoS: c.QoS, ValueField: c.ValueField})
		if err != nil {
			return nil, err
		}
		if err := s.Start(); err != nil {
			return nil, err
		}
		return s, nil
	case "nats":
		c := cfg.Sensor.NATS
		s, err := natsio.Dial(natsio.Config{URL: c.URL, Subject: c.Subject, Location: c.Location}, log)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, s.Close)
		if err := s.Start(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported sensor source %q", cfg.Sensor.Source)
	}
}

func buildActuator(cfg Config, log *logrus.Entry, closers *[]func()) (thermostat.Actuator, device.Runner, error) {
	switch cfg.Actuator.Driver {
	case "mqtt":
		c := cfg.Actuator.MQTT
		conn, err := mqttio.Dial(mqttio.ClientConfig{
			BrokerURL: c.BrokerURL,
			ClientID:  clientID(c.ClientID, cfg.DeviceID, "actuator"),
			Username:  c.Username,
			Password:  c.Password,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, conn.Close)
		a, err := mqttio.NewActuator(conn, mqttio.ActuatorConfig{
			StateTopic:   c.StateTopic,
			CommandTopic: c.CommandTopic,
			QoS:          c.QoS,
			Retain:       c.Retain,
			Min:          c.Min,
			Max:          c.Max,
			Step:         c.Step,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := a.Start(); err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	case "modbus":
		c := cfg.Actuator.Modbus
		a, err := modbusio.New(modbusio.Config{
			Addr:       c.Addr,
			UnitID:     c.UnitID,
			Register:   c.Register,
			ReadLimits: c.ReadLimits,
			Scale:      c.Scale,
			Timeout:    c.Timeout,
			Min:        c.Min,
			Max:        c.Max,
			Step:       c.Step,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	default:
		return nil, nil, fmt.Errorf("unsupported actuator driver %q", cfg.Actuator.Driver)
	}
}

func clientID(configured, deviceID, role string) string {
	if configured != "" {
		return configured
	}
	return "thermopid-" + deviceID + "-" + role
}
