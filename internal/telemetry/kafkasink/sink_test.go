package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/thermopid/internal/pid"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) snapshot() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func record(i int) thermostat.CycleRecord {
	return thermostat.CycleRecord{
		DeviceID:    "room",
		Start:       time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Setpoint:    19,
		Temperature: 10,
		Output:      9,
		Computed:    true,
		Terms:       pid.Terms{P: 9},
	}
}

func TestPublishesCycleRecords(t *testing.T) {
	w := &fakeWriter{}
	s := NewWithWriter(w, 4, quiet())
	_, err := uuid.Parse(s.RunID())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.ObserveCycle(record(1))
	require.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	msg := w.snapshot()[0]
	assert.Equal(t, "room", string(msg.Key))
	var got Record
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, s.RunID(), got.RunID)
	assert.Equal(t, 9.0, got.Output)
	assert.Equal(t, 9.0, got.P)
	assert.True(t, got.Computed)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, w.closed)
}

func TestObserveNeverBlocks(t *testing.T) {
	s := NewWithWriter(&fakeWriter{}, 2, quiet())
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.ObserveCycle(record(i))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("ObserveCycle blocked without a running sink")
	}
	assert.Len(t, s.queue, 2)
}

func TestWriteErrorKeepsRunning(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := NewWithWriter(w, 4, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	s.ObserveCycle(record(1))
	require.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	s.ObserveCycle(record(2))
	assert.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Config{}, quiet())
	assert.Error(t, err)

	s, err := New(Config{Brokers: []string{"localhost:9092"}}, quiet())
	require.NoError(t, err)
	kw, ok := s.w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, kw.Topic)
}
