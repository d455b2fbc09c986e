package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/ports"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration

	Username string
	Password string
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	log *logrus.Entry

	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
}

func New(svc ports.ThermostatService, cfg Config, log *logrus.Entry) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "thermopid/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "thermopid-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		svc:       svc,
		cfg:       cfg,
		log:       log.WithField("component", "mqtt-controller"),
		newClient: mqtt.NewClient,
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2*time.Second).
		SetWill(c.topic("availability"), "offline", c.cfg.QoS, true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = c.onConnect

	c.client = c.newClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Publish loop: publish snapshot on interval, and only when changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := c.svc.Get()
	c.publish(last)

	for {
		select {
		case <-ctx.Done():
			c.client.Publish(c.topic("availability"), c.cfg.QoS, true, "offline")
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			cur := c.svc.Get()
			if !reflect.DeepEqual(cur, last) {
				c.publish(cur)
				last = cur
			}
		}
	}
}

func (c *Controller) onConnect(cl mqtt.Client) {
	cl.Publish(c.topic("availability"), c.cfg.QoS, true, "online")
	token := cl.Subscribe(c.topic("set/+"), c.cfg.QoS, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.WithError(err).Error("subscribe to command topics failed")
	}
}

func (c *Controller) publishSnapshot() {
	c.publish(c.svc.Get())
}

func (c *Controller) publish(s thermostat.Snapshot) {
	dto := snapshotDTO{
		DeviceID:    c.cfg.DeviceID,
		Temperature: s.Setpoint,
		HVACMode:    s.Mode.String(),
		HVACAction:  s.Action.String(),
		PresetMode:  s.Preset.String(),
		MinTemp:     s.MinTemp,
		MaxTemp:     s.MaxTemp,
		Output:      s.Output,
	}
	if s.TemperatureValid {
		v := s.CurrentTemperature
		dto.CurrentTemperature = &v
	}
	for _, p := range s.Presets {
		dto.PresetModes = append(dto.PresetModes, p.String())
	}
	b, _ := json.Marshal(dto)
	c.client.Publish(c.topic("snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
}

type snapshotDTO struct {
	DeviceID           string   `json:"device_id"`
	Temperature        float64  `json:"temperature"`
	CurrentTemperature *float64 `json:"current_temperature"`
	HVACMode           string   `json:"hvac_mode"`
	HVACAction         string   `json:"hvac_action"`
	PresetMode         string   `json:"preset_mode"`
	PresetModes        []string `json:"preset_modes"`
	MinTemp            float64  `json:"min_temp"`
	MaxTemp            float64  `json:"max_temp"`
	Output             float64  `json:"output"`
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/set/<field>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/set/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)

	if err := c.dispatch(field, msg.Payload()); err != nil {
		c.log.WithError(err).WithField("topic", t).Warn("command ignored")
		return
	}
	c.publishSnapshot()
}

func (c *Controller) dispatch(field string, payload []byte) error {
	switch field {
	case "temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.svc.SetSetpoint(v)

	case "hvac_mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		m, err := thermostat.ParseMode(s)
		if err != nil {
			return err
		}
		return c.svc.SetMode(m)

	case "preset_mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		p, err := thermostat.ParsePreset(s)
		if err != nil {
			return err
		}
		return c.svc.SetPreset(p)
	}
	return fmt.Errorf("unknown command %q", field)
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
