package mqttio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

type SensorConfig struct {
	Topic string
	QoS   byte
	// ValueField selects a field of a JSON object payload. Plain payloads
	// ("21.5", "unavailable") are used as is.
	ValueField string
}

// Sensor turns messages on one topic into thermostat readings. The last
// message is kept so a retained state is available to recovery.
type Sensor struct {
	conn *Conn
	cfg  SensorConfig

	mu      sync.Mutex
	latest  *thermostat.Reading
	updates chan thermostat.Reading
}

func NewSensor(conn *Conn, cfg SensorConfig) (*Sensor, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqtt sensor: topic is required")
	}
	return &Sensor{conn: conn, cfg: cfg, updates: make(chan thermostat.Reading, 16)}, nil
}

// Start subscribes to the sensor topic. Call it before the thermostat runs so
// a retained reading can be picked up during recovery.
func (s *Sensor) Start() error {
	return s.conn.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
}

func (s *Sensor) onMessage(_ mqtt.Client, msg mqtt.Message) {
	r := DecodeReading(msg.Payload(), s.cfg.ValueField)

	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()

	// Only the newest reading matters, so drop the oldest when full.
	for {
		select {
		case s.updates <- r:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *Sensor) Latest() (thermostat.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return thermostat.Reading{}, false
	}
	return *s.latest, true
}

func (s *Sensor) Subscribe(ctx context.Context, fn func(thermostat.Reading)) error {
	defer s.conn.Unsubscribe(s.cfg.Topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.updates:
			fn(r)
		}
	}
}

// DecodeReading accepts a bare state ("21.5", "unknown"), a JSON number or
// string, or a JSON object carrying the value under field. A JSON null is
// an unavailable sensor.
func DecodeReading(payload []byte, field string) thermostat.Reading {
	b := bytes.TrimSpace(payload)
	if len(b) == 0 {
		return thermostat.Reading{Available: false}
	}
	if b[0] != '{' && b[0] != '"' && !bytes.Equal(b, []byte("null")) {
		return thermostat.Reading{Value: string(b), Available: true}
	}

	var raw json.RawMessage = b
	if b[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return thermostat.Reading{Value: string(b), Available: true}
		}
		if field == "" {
			field = "value"
		}
		v, ok := obj[field]
		if !ok {
			return thermostat.Reading{Available: false}
		}
		raw = v
	}
	return readingFromJSON(raw)
}

func readingFromJSON(raw json.RawMessage) thermostat.Reading {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return thermostat.Reading{Value: string(raw), Available: true}
	}
	switch x := v.(type) {
	case nil:
		return thermostat.Reading{Available: false}
	case float64:
		return thermostat.Reading{Value: strconv.FormatFloat(x, 'f', -1, 64), Available: true}
	case string:
		return thermostat.Reading{Value: x, Available: true}
	default:
		return thermostat.Reading{Value: string(raw), Available: true}
	}
}
