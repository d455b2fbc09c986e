package testutil

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// FakeActuator records every SetValue and reports a configurable state.
// Commands are reflected in the reported output, like a real number entity.
type FakeActuator struct {
	mu       sync.Mutex
	St       thermostat.ActuatorState
	StateErr error
	Values   []float64
}

func NewFakeActuator() *FakeActuator {
	return &FakeActuator{St: thermostat.ActuatorState{Min: 0, Max: 100, Step: 1, Available: true}}
}

func (a *FakeActuator) State(context.Context) (thermostat.ActuatorState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.St, a.StateErr
}

func (a *FakeActuator) SetValue(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Values = append(a.Values, v)
	a.St.Output = v
}

func (a *FakeActuator) Set(st thermostat.ActuatorState, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.St = st
	a.StateErr = err
}

// Last returns the last commanded value.
func (a *FakeActuator) Last() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Values) == 0 {
		return 0, false
	}
	return a.Values[len(a.Values)-1], true
}

func (a *FakeActuator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Values)
}

// FakeSensor serves a fixed latest reading and forwards pushed readings to
// the subscriber.
type FakeSensor struct {
	mu     sync.Mutex
	latest *thermostat.Reading
	ch     chan thermostat.Reading
}

func NewFakeSensor() *FakeSensor {
	return &FakeSensor{ch: make(chan thermostat.Reading, 16)}
}

func (s *FakeSensor) SetLatest(r thermostat.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &r
}

func (s *FakeSensor) Latest() (thermostat.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return thermostat.Reading{}, false
	}
	return *s.latest, true
}

func (s *FakeSensor) Push(r thermostat.Reading) { s.ch <- r }

func (s *FakeSensor) Subscribe(ctx context.Context, fn func(thermostat.Reading)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.ch:
			fn(r)
		}
	}
}

// MemoryStore is an in-memory thermostat.StateStore.
type MemoryStore struct {
	mu      sync.Mutex
	State   *thermostat.PersistedState
	LoadErr error
	Saves   int
}

func (m *MemoryStore) Load(context.Context) (thermostat.PersistedState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return thermostat.PersistedState{}, false, m.LoadErr
	}
	if m.State == nil {
		return thermostat.PersistedState{}, false, nil
	}
	return *m.State, true, nil
}

func (m *MemoryStore) Save(_ context.Context, s thermostat.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.State = &s
	m.Saves++
	return nil
}

func (m *MemoryStore) Get() (thermostat.PersistedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State == nil {
		return thermostat.PersistedState{}, false
	}
	return *m.State, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
