package modbusctrl

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// fake service for tests
type spyThermostatService struct {
	mu sync.Mutex
	s  thermostat.Snapshot

	// record calls
	setSetpointCalls []float64
	setModeCalls     []thermostat.HVACMode
	setPresetCalls   []thermostat.Preset
}

func (f *spyThermostatService) Get() thermostat.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}
func (f *spyThermostatService) Healthy() error { return nil }
func (f *spyThermostatService) SetSetpoint(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.Setpoint = v
	f.setSetpointCalls = append(f.setSetpointCalls, v)
	return nil
}
func (f *spyThermostatService) SetMode(m thermostat.HVACMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m != thermostat.ModeOff && m != thermostat.ModeHeat {
		return thermostat.ErrInvalidMode
	}
	f.s.Mode = m
	f.setModeCalls = append(f.setModeCalls, m)
	return nil
}
func (f *spyThermostatService) SetPreset(p thermostat.Preset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p != thermostat.PresetNone && p != thermostat.PresetAway {
		return thermostat.ErrInvalidPreset
	}
	f.s.Preset = p
	f.setPresetCalls = append(f.setPresetCalls, p)
	return nil
}

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

func startController(t *testing.T, fs *spyThermostatService) modbus.Client {
	t.Helper()
	addr := findFreeTCPAddr(t)
	ctrl, err := New(fs, Config{DeviceID: "dev", Addr: addr, UnitID: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = time.Second
	var cerr error
	for i := 0; i < 50; i++ {
		if cerr = handler.Connect(); cerr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if cerr != nil {
		t.Fatalf("client connect: %v", cerr)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func newSpy() *spyThermostatService {
	return &spyThermostatService{s: thermostat.Snapshot{
		Setpoint:           22.5,
		CurrentTemperature: 21.25,
		TemperatureValid:   true,
		Mode:               thermostat.ModeHeat,
		Modes:              []thermostat.HVACMode{thermostat.ModeOff, thermostat.ModeHeat},
		Action:             thermostat.ActionHeating,
		Preset:             thermostat.PresetNone,
		MinTemp:            7,
		MaxTemp:            35,
		Output:             42.5,
	}}
}

func regs(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2 : i*2+2])
	}
	return out
}

func TestModbusControllerReads(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	res, err := client.ReadHoldingRegisters(0, 3)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	hr := regs(res)
	if hr[HRSetpoint] != encodeTemp(22.5) || hr[HRMode] != uint16(thermostat.ModeHeat) || hr[HRPreset] != uint16(thermostat.PresetNone) {
		t.Fatalf("unexpected holding registers %v", hr)
	}

	res, err = client.ReadInputRegisters(0, 5)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	ir := regs(res)
	if decodeTemp(ir[IRTemperature]) != 21.25 {
		t.Fatalf("temperature mismatch: %v", ir)
	}
	if ir[IRAction] != uint16(thermostat.ActionHeating) || decodeTemp(ir[IROutput]) != 42.5 {
		t.Fatalf("action/output mismatch: %v", ir)
	}
	if decodeTemp(ir[IRMinTemp]) != 7 || decodeTemp(ir[IRMaxTemp]) != 35 {
		t.Fatalf("min/max mismatch: %v", ir)
	}

	coils, err := client.ReadCoils(0, 1)
	if err != nil || len(coils) != 1 || coils[0] != 1 {
		t.Fatalf("expected coil on, got %v %v", coils, err)
	}

	if _, err := client.ReadHoldingRegisters(2, 2); err == nil {
		t.Fatal("expected illegal address past the holding map")
	}
}

func TestModbusControllerUnknownTemperature(t *testing.T) {
	fs := newSpy()
	fs.s.TemperatureValid = false
	client := startController(t, fs)

	res, err := client.ReadInputRegisters(IRTemperature, 1)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if got := binary.BigEndian.Uint16(res); got != Unknown {
		t.Fatalf("expected unknown marker, got %#x", got)
	}
}

func TestModbusControllerWrites(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	newSP := encodeTemp(25.75)
	if _, err := client.WriteSingleRegister(HRSetpoint, newSP); err != nil {
		t.Fatalf("write register: %v", err)
	}
	fs.mu.Lock()
	if len(fs.setSetpointCalls) != 1 || fs.setSetpointCalls[0] != 25.75 {
		fs.mu.Unlock()
		t.Fatalf("setSetpoint not called: %v", fs.setSetpointCalls)
	}
	fs.mu.Unlock()

	// preset + mode in one request
	payload := []byte{0, byte(thermostat.ModeOff), 0, byte(thermostat.PresetAway)}
	if _, err := client.WriteMultipleRegisters(HRMode, 2, payload); err != nil {
		t.Fatalf("write multiple: %v", err)
	}
	s := fs.Get()
	if s.Mode != thermostat.ModeOff || s.Preset != thermostat.PresetAway {
		t.Fatalf("unexpected state after write multiple: %+v", s)
	}

	// Coil on selects the device's active mode.
	if _, err := client.WriteSingleCoil(0, 0xFF00); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if fs.Get().Mode != thermostat.ModeHeat {
		t.Fatalf("expected heat after coil on")
	}
	if _, err := client.WriteSingleCoil(0, 0x0000); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if fs.Get().Mode != thermostat.ModeOff {
		t.Fatalf("expected off after coil off")
	}
}

func TestModbusControllerRejectsInvalidWrites(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	if _, err := client.WriteSingleRegister(HRMode, uint16(thermostat.ModeCool)); err == nil {
		t.Fatal("expected exception for unsupported mode")
	}
	if _, err := client.WriteSingleRegister(HRMode, 9); err == nil {
		t.Fatal("expected exception for out of range mode")
	}
	if _, err := client.WriteSingleRegister(HRPreset, 9); err == nil {
		t.Fatal("expected exception for unknown preset")
	}
	if _, err := client.WriteSingleRegister(7, 1); err == nil {
		t.Fatal("expected exception for unmapped register")
	}
	if fs.Get().Mode != thermostat.ModeHeat {
		t.Fatal("state must be unchanged")
	}
}

func TestTemperatureCodec(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{21.25, 21.25},
		{-5.5, -5.5},
		{0.004, 0},
		{1000, 327.67},
		{-1000, -327.68},
	}
	for _, tt := range tests {
		if got := decodeTemp(encodeTemp(tt.in)); got != tt.want {
			t.Fatalf("codec(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
