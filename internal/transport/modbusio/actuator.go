package modbusio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// Config describes a numeric output held in Modbus holding registers.
//
// Register holds the output. With ReadLimits, the three registers after it
// hold min, max and step. All values are int16 scaled by Scale.
type Config struct {
	Addr       string
	UnitID     byte
	Register   uint16
	ReadLimits bool
	Scale      float64
	Timeout    time.Duration

	// Used when ReadLimits is false.
	Min  float64
	Max  float64
	Step float64
}

// Actuator drives a Modbus TCP output. Writes are queued and sent by the
// writer goroutine, newest value wins.
type Actuator struct {
	cfg Config
	log *logrus.Entry

	handler *modbus.TCPClientHandler
	mu      sync.Mutex
	client  modbus.Client

	pending chan float64
}

func New(cfg Config, log *logrus.Entry) (*Actuator, error) {
	if cfg.Addr == "" {
		return nil, errors.New("modbus actuator: addr is required")
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	h := modbus.NewTCPClientHandler(cfg.Addr)
	h.SlaveId = cfg.UnitID
	h.Timeout = cfg.Timeout
	h.IdleTimeout = time.Minute

	return &Actuator{
		cfg:     cfg,
		log:     log.WithFields(logrus.Fields{"component": "modbusio", "addr": cfg.Addr}),
		handler: h,
		client:  modbus.NewClient(h),
		pending: make(chan float64, 1),
	}, nil
}

// Run sends queued values until ctx is canceled.
func (a *Actuator) Run(ctx context.Context) error {
	defer a.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-a.pending:
			if err := a.write(v); err != nil {
				a.log.WithError(err).WithField("value", v).Warn("actuator write failed")
			}
		}
	}
}

func (a *Actuator) State(context.Context) (thermostat.ActuatorState, error) {
	qty := uint16(1)
	if a.cfg.ReadLimits {
		qty = 4
	}
	a.mu.Lock()
	b, err := a.client.ReadHoldingRegisters(a.cfg.Register, qty)
	a.mu.Unlock()
	if err != nil {
		return thermostat.ActuatorState{}, fmt.Errorf("read holding %d: %w", a.cfg.Register, err)
	}
	if len(b) < int(qty)*2 {
		return thermostat.ActuatorState{}, fmt.Errorf("read holding %d: short response", a.cfg.Register)
	}

	st := thermostat.ActuatorState{
		Output:    a.decode(b[0:2]),
		Min:       a.cfg.Min,
		Max:       a.cfg.Max,
		Step:      a.cfg.Step,
		Available: true,
	}
	if a.cfg.ReadLimits {
		st.Min = a.decode(b[2:4])
		st.Max = a.decode(b[4:6])
		st.Step = a.decode(b[6:8])
	}
	return st, nil
}

// SetValue never blocks; an unsent older value is replaced.
func (a *Actuator) SetValue(v float64) {
	for {
		select {
		case a.pending <- v:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

func (a *Actuator) write(v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.client.WriteSingleRegister(a.cfg.Register, a.encode(v))
	return err
}

func (a *Actuator) encode(v float64) uint16 {
	r := min(max(math.Round(v*a.cfg.Scale), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func (a *Actuator) decode(b []byte) float64 {
	return float64(int16(binary.BigEndian.Uint16(b))) / a.cfg.Scale
}
