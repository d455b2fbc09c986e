package mqttio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

var ErrNoState = errors.New("mqtt actuator: no state received yet")

type ActuatorConfig struct {
	StateTopic   string
	CommandTopic string
	QoS          byte
	Retain       bool

	// Used when the state payload does not carry them.
	Min  float64
	Max  float64
	Step float64
}

// statePayload is the JSON form of the actuator state topic. A bare number
// is accepted as well and then only carries the output.
type statePayload struct {
	Value     *float64 `json:"value"`
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Step      *float64 `json:"step"`
	Available *bool    `json:"available"`
}

// Actuator is a numeric output entity reachable over MQTT: the state topic
// reports the current value and range, the command topic sets it.
type Actuator struct {
	conn *Conn
	cfg  ActuatorConfig

	mu    sync.Mutex
	state *thermostat.ActuatorState
}

func NewActuator(conn *Conn, cfg ActuatorConfig) (*Actuator, error) {
	if cfg.StateTopic == "" || cfg.CommandTopic == "" {
		return nil, errors.New("mqtt actuator: state and command topics are required")
	}
	return &Actuator{conn: conn, cfg: cfg}, nil
}

func (a *Actuator) Start() error {
	return a.conn.Subscribe(a.cfg.StateTopic, a.cfg.QoS, a.onState)
}

func (a *Actuator) onState(_ mqtt.Client, msg mqtt.Message) {
	st, err := a.decodeState(msg.Payload())
	if err != nil {
		a.conn.log.WithError(err).WithField("topic", msg.Topic()).Warn("ignoring actuator state")
		return
	}
	a.mu.Lock()
	a.state = &st
	a.mu.Unlock()
}

func (a *Actuator) decodeState(b []byte) (thermostat.ActuatorState, error) {
	st := thermostat.ActuatorState{Min: a.cfg.Min, Max: a.cfg.Max, Step: a.cfg.Step, Available: true}
	s := strings.TrimSpace(string(b))
	switch strings.ToLower(s) {
	case "", "unavailable", "unknown", "null":
		st.Available = false
		return st, nil
	}
	if !strings.HasPrefix(s, "{") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return st, fmt.Errorf("parse actuator state %q: %w", s, err)
		}
		st.Output = v
		return st, nil
	}

	var p statePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return st, fmt.Errorf("parse actuator state: %w", err)
	}
	if p.Min != nil {
		st.Min = *p.Min
	}
	if p.Max != nil {
		st.Max = *p.Max
	}
	if p.Step != nil {
		st.Step = *p.Step
	}
	if p.Available != nil {
		st.Available = *p.Available
	}
	if p.Value == nil {
		st.Available = false
	} else {
		st.Output = *p.Value
	}
	return st, nil
}

func (a *Actuator) State(context.Context) (thermostat.ActuatorState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return thermostat.ActuatorState{}, ErrNoState
	}
	return *a.state, nil
}

// SetValue publishes the command without waiting for the broker.
func (a *Actuator) SetValue(v float64) {
	payload := strconv.FormatFloat(v, 'f', -1, 64)
	a.conn.Publish(a.cfg.CommandTopic, a.cfg.QoS, a.cfg.Retain, []byte(payload))
}
