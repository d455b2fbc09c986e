package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/thermopid/internal/pid"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

const EnvPrefix = "THERMOPID_"

type Config struct {
	DeviceID    string            `koanf:"device_id"`
	Log         LogConfig         `koanf:"log"`
	Thermostat  ThermostatConfig  `koanf:"thermostat"`
	Sensor      SensorConfig      `koanf:"sensor"`
	Actuator    ActuatorConfig    `koanf:"actuator"`
	Store       StoreConfig       `koanf:"store"`
	Controllers ControllersConfig `koanf:"controllers"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Simulator   SimulatorConfig   `koanf:"simulator"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "text" | "json"
}

type ThermostatConfig struct {
	Name      string        `koanf:"name"`
	ACMode    string        `koanf:"ac_mode"` // "heat" | "cool"
	Kp        float64       `koanf:"kp"`
	Ki        float64       `koanf:"ki"`
	Kd        float64       `koanf:"kd"`
	CycleTime time.Duration `koanf:"cycle_time"`
	MinTemp   float64       `koanf:"min_temp"`
	MaxTemp   float64       `koanf:"max_temp"`

	TargetTemp      *float64 `koanf:"target_temp"`
	AwayTemp        *float64 `koanf:"away_temp"`
	InitialHVACMode string   `koanf:"initial_hvac_mode"`
}

type SensorConfig struct {
	Source string           `koanf:"source"` // "mqtt" | "nats" | "sim"
	MQTT   MQTTSensorConfig `koanf:"mqtt"`
	NATS   NATSSensorConfig `koanf:"nats"`
}

type MQTTSensorConfig struct {
	BrokerURL  string `koanf:"broker_url"`
	ClientID   string `koanf:"client_id"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	Topic      string `koanf:"topic"`
	QoS        byte   `koanf:"qos"`
	ValueField string `koanf:"value_field"`
}

type NATSSensorConfig struct {
	URL      string `koanf:"url"`
	Subject  string `koanf:"subject"`
	Location string `koanf:"location"`
}

type ActuatorConfig struct {
	Driver string               `koanf:"driver"` // "mqtt" | "modbus" | "sim"
	MQTT   MQTTActuatorConfig   `koanf:"mqtt"`
	Modbus ModbusActuatorConfig `koanf:"modbus"`
}

type MQTTActuatorConfig struct {
	BrokerURL    string  `koanf:"broker_url"`
	ClientID     string  `koanf:"client_id"`
	Username     string  `koanf:"username"`
	Password     string  `koanf:"password"`
	StateTopic   string  `koanf:"state_topic"`
	CommandTopic string  `koanf:"command_topic"`
	QoS          byte    `koanf:"qos"`
	Retain       bool    `koanf:"retain"`
	Min          float64 `koanf:"min"`
	Max          float64 `koanf:"max"`
	Step         float64 `koanf:"step"`
}

type ModbusActuatorConfig struct {
	Addr       string        `koanf:"addr"`
	UnitID     byte          `koanf:"unit_id"`
	Register   uint16        `koanf:"register"`
	ReadLimits bool          `koanf:"read_limits"`
	Scale      float64       `koanf:"scale"`
	Timeout    time.Duration `koanf:"timeout"`
	Min        float64       `koanf:"min"`
	Max        float64       `koanf:"max"`
	Step       float64       `koanf:"step"`
}

type StoreConfig struct {
	Backend string `koanf:"backend"` // "file" | "sqlite" | "none"
	Path    string `koanf:"path"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt"`
	Modbus ModbusConfig `koanf:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Metrics bool   `koanf:"metrics"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

type TelemetryConfig struct {
	Kafka KafkaConfig `koanf:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
	Buffer       int           `koanf:"buffer"`
}

// SimulatorConfig describes the in-process room used by the "sim" sensor
// source and actuator driver.
type SimulatorConfig struct {
	InitialTemperature  float64       `koanf:"initial_temperature"`
	OutdoorTemperature  float64       `koanf:"outdoor_temperature"`
	HeatLossCoefficient float64       `koanf:"heat_loss_coefficient"`
	Gain                float64       `koanf:"gain"`
	Min                 float64       `koanf:"min"`
	Max                 float64       `koanf:"max"`
	Step                float64       `koanf:"step"`
	Tick                time.Duration `koanf:"tick"`
}

func Default() Config {
	return Config{
		DeviceID: "default",
		Log:      LogConfig{Level: "info", Format: "text"},
		Thermostat: ThermostatConfig{
			Name:      "thermostat",
			ACMode:    "heat",
			Kp:        100,
			Ki:        0.1,
			CycleTime: thermostat.DefaultCycleTime,
			MinTemp:   thermostat.DefaultMinTemp,
			MaxTemp:   thermostat.DefaultMaxTemp,
		},
		Sensor: SensorConfig{
			Source: "sim",
			MQTT:   MQTTSensorConfig{BrokerURL: "tcp://localhost:1883"},
			NATS:   NATSSensorConfig{URL: "nats://localhost:4222"},
		},
		Actuator: ActuatorConfig{
			Driver: "sim",
			MQTT: MQTTActuatorConfig{
				BrokerURL: "tcp://localhost:1883",
				Min:       thermostat.DefaultOutputMin,
				Max:       thermostat.DefaultOutputMax,
				Step:      thermostat.DefaultOutputStep,
			},
			Modbus: ModbusActuatorConfig{
				Addr:    "localhost:502",
				UnitID:  1,
				Scale:   100,
				Timeout: 2 * time.Second,
				Min:     thermostat.DefaultOutputMin,
				Max:     thermostat.DefaultOutputMax,
				Step:    thermostat.DefaultOutputStep,
			},
		},
		Store: StoreConfig{Backend: "file", Path: "thermopid-state.yaml"},
		Controllers: ControllersConfig{
			HTTP: HTTPConfig{Enabled: true, Addr: ":8080", Metrics: true},
			MQTT: MQTTConfig{
				BrokerURL:       "tcp://localhost:1883",
				PublishInterval: time.Second,
			},
			Modbus: ModbusConfig{Addr: ":1502", UnitID: 1},
		},
		Telemetry: TelemetryConfig{Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "thermopid.cycles",
			BatchTimeout: 200 * time.Millisecond,
			Buffer:       64,
		}},
		Simulator: SimulatorConfig{
			InitialTemperature:  15,
			OutdoorTemperature:  5,
			HeatLossCoefficient: 1e-4,
			Gain:                0.01,
			Min:                 0,
			Max:                 100,
			Step:                1,
			Tick:                time.Second,
		},
	}
}

// LoadConfig layers defaults, the optional config file and THERMOPID_*
// environment variables, in that order. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var parser koanf.Parser
			switch ext := strings.ToLower(filepath.Ext(path)); ext {
			case ".yaml", ".yml":
				parser = yaml.Parser()
			case ".json":
				parser = json.Parser()
			default:
				return Config{}, fmt.Errorf("unsupported config extension %q", ext)
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			k := envKeyTransform(strings.TrimPrefix(key, EnvPrefix))
			if strings.HasSuffix(k, ".brokers") {
				return k, strings.Split(value, ",")
			}
			return k, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sections whose second segment names a sub block (controllers.http,
// sensor.mqtt, ...).
var nestedSections = map[string]map[string]bool{
	"controllers": {"http": true, "mqtt": true, "modbus": true},
	"sensor":      {"mqtt": true, "nats": true},
	"actuator":    {"mqtt": true, "modbus": true},
	"telemetry":   {"kafka": true},
}

var flatSections = map[string]bool{
	"log":        true,
	"thermostat": true,
	"store":      true,
	"simulator":  true,
}

// envKeyTransform maps an unprefixed env name to a koanf path:
// CONTROLLERS_MQTT_PUBLISH_INTERVAL -> controllers.mqtt.publish_interval,
// THERMOSTAT_CYCLE_TIME -> thermostat.cycle_time, DEVICE_ID -> device_id.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "_")
	if len(parts) < 2 {
		return s
	}
	section := parts[0]
	if subs, ok := nestedSections[section]; ok {
		if len(parts) >= 3 && subs[parts[1]] {
			return section + "." + parts[1] + "." + strings.Join(parts[2:], "_")
		}
		return section + "." + strings.Join(parts[1:], "_")
	}
	if flatSections[section] {
		return section + "." + strings.Join(parts[1:], "_")
	}
	return s
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	switch c.Sensor.Source {
	case "mqtt", "nats", "sim":
	default:
		return fmt.Errorf("invalid sensor.source %q", c.Sensor.Source)
	}
	switch c.Actuator.Driver {
	case "mqtt", "modbus", "sim":
	default:
		return fmt.Errorf("invalid actuator.driver %q", c.Actuator.Driver)
	}
	if (c.Sensor.Source == "sim") != (c.Actuator.Driver == "sim") {
		return errors.New("sensor.source and actuator.driver must both be sim or neither")
	}
	if c.Sensor.Source == "mqtt" && c.Sensor.MQTT.Topic == "" {
		return errors.New("sensor.mqtt.topic is required")
	}
	if c.Actuator.Driver == "mqtt" && (c.Actuator.MQTT.StateTopic == "" || c.Actuator.MQTT.CommandTopic == "") {
		return errors.New("actuator.mqtt.state_topic and actuator.mqtt.command_topic are required")
	}
	switch c.Store.Backend {
	case "none":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("invalid store.backend %q", c.Store.Backend)
	}
	if c.Telemetry.Kafka.Enabled && len(c.Telemetry.Kafka.Brokers) == 0 {
		return errors.New("telemetry.kafka.brokers is required")
	}
	if _, err := c.ThermostatConfig(); err != nil {
		return err
	}
	return nil
}

// ThermostatConfig converts the thermostat section into the controller
// configuration.
func (c Config) ThermostatConfig() (thermostat.Config, error) {
	orientation, err := thermostat.ParseOrientation(c.Thermostat.ACMode)
	if err != nil {
		return thermostat.Config{}, err
	}
	var initial thermostat.HVACMode
	if c.Thermostat.InitialHVACMode != "" {
		initial, err = thermostat.ParseMode(c.Thermostat.InitialHVACMode)
		if err != nil {
			return thermostat.Config{}, fmt.Errorf("thermostat.initial_hvac_mode: %w", err)
		}
	}
	tc := thermostat.Config{
		DeviceID:    c.DeviceID,
		Name:        c.Thermostat.Name,
		Orientation: orientation,
		Gains:       pid.Gains{Kp: c.Thermostat.Kp, Ki: c.Thermostat.Ki, Kd: c.Thermostat.Kd},
		CycleTime:   c.Thermostat.CycleTime,
		MinTemp:     c.Thermostat.MinTemp,
		MaxTemp:     c.Thermostat.MaxTemp,
		TargetTemp:  c.Thermostat.TargetTemp,
		AwayTemp:    c.Thermostat.AwayTemp,
		InitialMode: initial,
	}
	if err := tc.Gains.Validate(); err != nil {
		return thermostat.Config{}, err
	}
	if err := tc.Validate(); err != nil {
		return thermostat.Config{}, err
	}
	return tc, nil
}
