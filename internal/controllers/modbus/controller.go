package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/thermopid/internal/ports"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// Register map.
//
//	coil 0            on (hvac mode is not off); writing 1 selects the active mode
//	holding 0         target temperature x100 (int16)
//	holding 1         hvac mode (1 off, 2 heat, 3 cool)
//	holding 2         preset (1 none, 2 away)
//	input 0           current temperature x100 (int16), 0x8000 when unknown
//	input 1           hvac action (0 off, 1 idle, 2 heating, 3 cooling)
//	input 2           actuator output x100 (int16)
//	input 3, input 4  min / max temperature x100 (int16)
const (
	HRSetpoint = iota
	HRMode
	HRPreset
	holdingCount
)

const (
	IRTemperature = iota
	IRAction
	IROutput
	IRMinTemp
	IRMaxTemp
	inputCount
)

// Unknown is reported for a temperature that has no valid reading.
const Unknown uint16 = 0x8000

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	log *logrus.Entry

	serv *mbserver.Server
}

func New(svc ports.ThermostatService, cfg Config, log *logrus.Entry) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{svc: svc, cfg: cfg, log: log.WithField("component", "modbus-controller")}, nil
}

// Run starts the Modbus server. Reads are served from the thermostat snapshot
// and writes are applied immediately. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, c.readHolding)
	serv.RegisterFunctionHandler(4, c.readInput)
	serv.RegisterFunctionHandler(5, c.writeCoil)
	serv.RegisterFunctionHandler(6, c.writeSingle)
	serv.RegisterFunctionHandler(16, c.writeMultiple)

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.WithField("addr", c.cfg.Addr).Info("modbus controller listening")

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, ex := addressQuantity(frame.GetData(), 2000)
	if ex != nil {
		return []byte{}, ex
	}
	if start != 0 || qty != 1 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	coil := byte(0)
	if c.svc.Get().Mode != thermostat.ModeOff {
		coil = 0x01
	}
	return []byte{1, coil}, &mbserver.Success
}

func (c *Controller) readHolding(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return c.readRegisters(frame.GetData(), holdingCount, holding)
}

func (c *Controller) readInput(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return c.readRegisters(frame.GetData(), inputCount, input)
}

func holding(s thermostat.Snapshot, addr int) uint16 {
	switch addr {
	case HRSetpoint:
		return encodeTemp(s.Setpoint)
	case HRMode:
		return uint16(s.Mode)
	default:
		return uint16(s.Preset)
	}
}

func input(s thermostat.Snapshot, addr int) uint16 {
	switch addr {
	case IRTemperature:
		if !s.TemperatureValid {
			return Unknown
		}
		return encodeTemp(s.CurrentTemperature)
	case IRAction:
		return uint16(s.Action)
	case IROutput:
		return encodeTemp(s.Output)
	case IRMinTemp:
		return encodeTemp(s.MinTemp)
	default:
		return encodeTemp(s.MaxTemp)
	}
}

func (c *Controller) writeCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	if addr != 0 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	mode := thermostat.ModeOff
	switch value {
	case 0x0000:
	case 0xFF00:
		mode = activeMode(c.svc.Get())
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}
	if err := c.svc.SetMode(mode); err != nil {
		c.log.WithError(err).Warn("coil write rejected")
		return []byte{}, &mbserver.IllegalDataValue
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeSingle(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	if ex := c.writeRegister(int(addr), value); ex != nil {
		return []byte{}, ex
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeMultiple(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(start)+int(quantity) > holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if ex := c.writeRegister(int(start)+i, val); ex != nil {
			return []byte{}, ex
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) writeRegister(addr int, val uint16) *mbserver.Exception {
	var err error
	switch addr {
	case HRSetpoint:
		err = c.svc.SetSetpoint(decodeTemp(val))
	case HRMode:
		m := thermostat.HVACMode(val)
		if !m.Valid() {
			err = fmt.Errorf("%w: %d", thermostat.ErrInvalidMode, val)
			break
		}
		err = c.svc.SetMode(m)
	case HRPreset:
		err = c.svc.SetPreset(thermostat.Preset(val))
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		c.log.WithError(err).WithField("register", addr).Warn("register write rejected")
		return &mbserver.IllegalDataValue
	}
	return nil
}

func activeMode(s thermostat.Snapshot) thermostat.HVACMode {
	for _, m := range s.Modes {
		if m != thermostat.ModeOff {
			return m
		}
	}
	return thermostat.ModeUnknown
}

func addressQuantity(data []byte, maxQty int) (int, int, *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	return start, qty, nil
}

// readRegisters answers a read of [start, start+qty) out of count registers,
// rendering each one from a single snapshot.
func (c *Controller) readRegisters(data []byte, count int, value func(thermostat.Snapshot, int) uint16) ([]byte, *mbserver.Exception) {
	start, qty, ex := addressQuantity(data, 125)
	if ex != nil {
		return []byte{}, ex
	}
	if start+qty > count {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	snap := c.svc.Get()
	byteCount := qty * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], value(snap, start+i))
	}
	return resp, &mbserver.Success
}

const TemperatureScale int = 100

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}
