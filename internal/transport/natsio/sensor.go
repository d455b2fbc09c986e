package natsio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

const DefaultSubject = "otto.sensor.temperature.current"

type Config struct {
	URL     string
	Subject string
	// Location, when set, drops updates from other rooms.
	Location string
}

// SensorUpdate is the message published by remote thermometers.
type SensorUpdate struct {
	Location string      `json:"location"`
	Type     string      `json:"type"`
	Value    Temperature `json:"value"`
}

type Temperature struct {
	Degrees *float64 `json:"degrees"`
	Unit    string   `json:"unit"`
}

var errSkip = errors.New("update not for this sensor")

// Sensor listens for temperature updates on a NATS subject.
type Sensor struct {
	nc  *nats.Conn
	cfg Config
	log *logrus.Entry

	sub *nats.Subscription

	mu      sync.Mutex
	latest  *thermostat.Reading
	updates chan thermostat.Reading
}

func Dial(cfg Config, log *logrus.Entry) (*Sensor, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	s := newSensor(nil, cfg, log)
	nc, err := nats.Connect(cfg.URL,
		nats.Name("thermopid"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	s.nc = nc
	return s, nil
}

func newSensor(nc *nats.Conn, cfg Config, log *logrus.Entry) *Sensor {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sensor{
		nc:      nc,
		cfg:     cfg,
		log:     log.WithFields(logrus.Fields{"component": "natsio", "subject": cfg.Subject}),
		updates: make(chan thermostat.Reading, 16),
	}
}

// Start subscribes to the configured subject.
func (s *Sensor) Start() error {
	sub, err := s.nc.Subscribe(s.cfg.Subject, s.onMsg)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	return nil
}

func (s *Sensor) onMsg(m *nats.Msg) {
	r, err := s.decode(m.Data)
	if errors.Is(err, errSkip) {
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("could not parse update from NATS")
		r = thermostat.Reading{Value: string(m.Data), Available: true}
	}

	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()

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

// decode accepts a SensorUpdate or a bare value. Fahrenheit is converted.
func (s *Sensor) decode(data []byte) (thermostat.Reading, error) {
	b := bytes.TrimSpace(data)
	if len(b) == 0 || b[0] != '{' {
		return thermostat.Reading{Value: string(b), Available: len(b) > 0}, nil
	}
	var u SensorUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		return thermostat.Reading{}, err
	}
	if s.cfg.Location != "" && !strings.EqualFold(u.Location, s.cfg.Location) {
		return thermostat.Reading{}, errSkip
	}
	if u.Type != "" && !strings.EqualFold(u.Type, "temperature") {
		return thermostat.Reading{}, errSkip
	}
	if u.Value.Degrees == nil {
		return thermostat.Reading{Available: false}, nil
	}
	deg := *u.Value.Degrees
	if strings.EqualFold(u.Value.Unit, "fahrenheit") {
		deg = (deg - 32) * 5 / 9
	}
	return thermostat.Reading{Value: strconv.FormatFloat(deg, 'f', -1, 64), Available: true}, nil
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
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.updates:
			fn(r)
		}
	}
}

func (s *Sensor) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
