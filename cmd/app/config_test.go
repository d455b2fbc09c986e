package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

func TestEnvKeyTransform_TopLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DEVICE_ID", "device_id"},
		{"ADDR", "addr"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := envKeyTransform(tt.in); got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_NestedSections(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CONTROLLERS_HTTP_ADDR", "controllers.http.addr"},
		{"CONTROLLERS_MQTT_PUBLISH_INTERVAL", "controllers.mqtt.publish_interval"},
		{"CONTROLLERS_MODBUS_UNIT_ID", "controllers.modbus.unit_id"},
		{"controllers_HTTP_addr", "controllers.http.addr"},
		{"CONTROLLERS", "controllers"},
		{"SENSOR_SOURCE", "sensor.source"},
		{"SENSOR_MQTT_VALUE_FIELD", "sensor.mqtt.value_field"},
		{"SENSOR_NATS_SUBJECT", "sensor.nats.subject"},
		{"ACTUATOR_MODBUS_READ_LIMITS", "actuator.modbus.read_limits"},
		{"ACTUATOR_MQTT_COMMAND_TOPIC", "actuator.mqtt.command_topic"},
		{"TELEMETRY_KAFKA_BATCH_TIMEOUT", "telemetry.kafka.batch_timeout"},
	}
	for _, tt := range tests {
		if got := envKeyTransform(tt.in); got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_FlatSections(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"THERMOSTAT_TARGET_TEMP", "thermostat.target_temp"},
		{"THERMOSTAT_INITIAL_HVAC_MODE", "thermostat.initial_hvac_mode"},
		{"THERMOSTAT", "thermostat"},
		{"LOG_LEVEL", "log.level"},
		{"STORE_BACKEND", "store.backend"},
		{"SIMULATOR_HEAT_LOSS_COEFFICIENT", "simulator.heat_loss_coefficient"},
	}
	for _, tt := range tests {
		if got := envKeyTransform(tt.in); got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.DeviceID)
	assert.Equal(t, "sim", cfg.Sensor.Source)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Controllers.HTTP.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Telemetry.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Simulator.Tick)

	tc, err := cfg.ThermostatConfig()
	require.NoError(t, err)
	assert.Equal(t, thermostat.Heater, tc.Orientation)
	assert.Equal(t, 100.0, tc.Gains.Kp)
	assert.Equal(t, 30*time.Second, tc.CycleTime)
	assert.Nil(t, tc.TargetTemp)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_id: bedroom
thermostat:
  ac_mode: cool
  kp: 2.5
  cycle_time: 10s
  target_temp: 24
  away_temp: 28
  initial_hvac_mode: cool
sensor:
  source: mqtt
  mqtt:
    topic: home/bedroom/temperature
    value_field: temperature
actuator:
  driver: modbus
  modbus:
    addr: 10.0.0.5:502
    register: 40
store:
  backend: sqlite
  path: /var/lib/thermopid/state.db
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bedroom", cfg.DeviceID)
	assert.Equal(t, "home/bedroom/temperature", cfg.Sensor.MQTT.Topic)
	assert.Equal(t, "tcp://localhost:1883", cfg.Sensor.MQTT.BrokerURL, "defaults survive partial blocks")
	assert.Equal(t, uint16(40), cfg.Actuator.Modbus.Register)
	assert.Equal(t, 100.0, cfg.Actuator.Modbus.Scale)

	tc, err := cfg.ThermostatConfig()
	require.NoError(t, err)
	assert.Equal(t, thermostat.Cooler, tc.Orientation)
	assert.Equal(t, thermostat.ModeCool, tc.InitialMode)
	assert.Equal(t, 10*time.Second, tc.CycleTime)
	require.NotNil(t, tc.TargetTemp)
	assert.Equal(t, 24.0, *tc.TargetTemp)
	assert.Equal(t, 28.0, *tc.AwayTemp)
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"office","controllers":{"http":{"addr":":9090"}}}`), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "office", cfg.DeviceID)
	assert.Equal(t, ":9090", cfg.Controllers.HTTP.Addr)
	assert.True(t, cfg.Controllers.HTTP.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("THERMOPID_DEVICE_ID", "kitchen")
	t.Setenv("THERMOPID_CONTROLLERS_MQTT_ENABLED", "true")
	t.Setenv("THERMOPID_CONTROLLERS_MQTT_PUBLISH_INTERVAL", "5s")
	t.Setenv("THERMOPID_THERMOSTAT_KI", "0.5")
	t.Setenv("THERMOPID_THERMOSTAT_AWAY_TEMP", "16")
	t.Setenv("THERMOPID_TELEMETRY_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "kitchen", cfg.DeviceID)
	assert.True(t, cfg.Controllers.MQTT.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Controllers.MQTT.PublishInterval)
	assert.Equal(t, 0.5, cfg.Thermostat.Ki)
	require.NotNil(t, cfg.Thermostat.AwayTemp)
	assert.Equal(t, 16.0, *cfg.Thermostat.AwayTemp)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Telemetry.Kafka.Brokers)
}

func TestLoadConfigRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device id", func(c *Config) { c.DeviceID = " " }},
		{"unknown sensor", func(c *Config) { c.Sensor.Source = "zigbee" }},
		{"unknown actuator", func(c *Config) { c.Actuator.Driver = "relay" }},
		{"sim sensor without sim actuator", func(c *Config) { c.Actuator.Driver = "modbus" }},
		{"mqtt sensor without topic", func(c *Config) { c.Sensor.Source, c.Actuator.Driver = "mqtt", "modbus" }},
		{"mqtt actuator without topics", func(c *Config) {
			c.Sensor.Source, c.Actuator.Driver = "nats", "mqtt"
		}},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }},
		{"file store without path", func(c *Config) { c.Store.Path = "" }},
		{"kafka without brokers", func(c *Config) {
			c.Telemetry.Kafka.Enabled = true
			c.Telemetry.Kafka.Brokers = nil
		}},
		{"bad ac mode", func(c *Config) { c.Thermostat.ACMode = "fan" }},
		{"bad initial mode", func(c *Config) { c.Thermostat.InitialHVACMode = "auto" }},
		{"initial mode against orientation", func(c *Config) { c.Thermostat.InitialHVACMode = "cool" }},
		{"inverted range", func(c *Config) { c.Thermostat.MinTemp, c.Thermostat.MaxTemp = 30, 10 }},
		{"negative gain", func(c *Config) { c.Thermostat.Kp = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestBuildSimulatedDevice(t *testing.T) {
	cfg := Default()
	cfg.DeviceID = "lab"
	cfg.Store = StoreConfig{Backend: "sqlite", Path: ":memory:"}
	cfg.Controllers.Modbus.Enabled = true
	cfg.Telemetry.Kafka.Enabled = true

	l := logrus.New()
	l.SetOutput(io.Discard)
	dev, err := Build(cfg, logrus.NewEntry(l))
	require.NoError(t, err)
	assert.Equal(t, "lab", dev.ID)

	snap := dev.T.Get()
	assert.Equal(t, "lab", snap.DeviceID)
	assert.Equal(t, thermostat.ModeOff, snap.Mode)
}
