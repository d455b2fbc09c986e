package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

const DefaultTopic = "thermopid.cycles"

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Buffer       int
}

// Record is the JSON payload published for each control cycle.
type Record struct {
	RunID        string    `json:"run_id"`
	DeviceID     string    `json:"device_id"`
	Timestamp    time.Time `json:"ts"`
	Setpoint     float64   `json:"setpoint"`
	Temperature  float64   `json:"temperature"`
	Output       float64   `json:"output"`
	Computed     bool      `json:"computed"`
	ComputeError string    `json:"compute_error,omitempty"`
	P            float64   `json:"p"`
	I            float64   `json:"i"`
	D            float64   `json:"d"`
}

// Sink forwards cycle records to Kafka from its own goroutine. ObserveCycle
// drops records when the buffer is full.
type Sink struct {
	w     MessageWriter
	runID string
	queue chan Record
	log   *logrus.Entry
}

func New(cfg Config, log *logrus.Entry) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkasink: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewWithWriter(w, cfg.Buffer, log), nil
}

func NewWithWriter(w MessageWriter, buffer int, log *logrus.Entry) *Sink {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	runID := uuid.NewString()
	return &Sink{
		w:     w,
		runID: runID,
		queue: make(chan Record, buffer),
		log:   log.WithFields(logrus.Fields{"component": "kafkasink", "run_id": runID}),
	}
}

func (s *Sink) RunID() string { return s.runID }

func (s *Sink) ObserveCycle(rec thermostat.CycleRecord) {
	r := Record{
		RunID:        s.runID,
		DeviceID:     rec.DeviceID,
		Timestamp:    rec.Start.UTC(),
		Setpoint:     rec.Setpoint,
		Temperature:  rec.Temperature,
		Output:       rec.Output,
		Computed:     rec.Computed,
		ComputeError: rec.ComputeError,
		P:            rec.Terms.P,
		I:            rec.Terms.I,
		D:            rec.Terms.D,
	}
	select {
	case s.queue <- r:
	default:
		s.log.Warn("telemetry buffer full, dropping cycle record")
	}
}

// Run publishes queued records until ctx is done, then closes the writer.
func (s *Sink) Run(ctx context.Context) error {
	defer func() {
		if err := s.w.Close(); err != nil {
			s.log.WithError(err).Warn("close kafka writer")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.queue:
			s.publish(ctx, r)
		}
	}
}

func (s *Sink) publish(ctx context.Context, r Record) {
	b, err := json.Marshal(r)
	if err != nil {
		s.log.WithError(err).Error("marshal cycle record")
		return
	}
	msg := kafka.Message{Key: []byte(r.DeviceID), Value: b, Time: r.Timestamp}
	if err := s.w.WriteMessages(ctx, msg); err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("device_id", r.DeviceID).Warn("kafka write failed")
	}
}
