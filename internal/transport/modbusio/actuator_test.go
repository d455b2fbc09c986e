package modbusio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

func startServer(t *testing.T) (*mbserver.Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	serv := mbserver.NewServer()
	require.NoError(t, serv.ListenTCP(addr))
	t.Cleanup(serv.Close)
	return serv, addr
}

func TestStateWithLimits(t *testing.T) {
	serv, addr := startServer(t)
	serv.HoldingRegisters[10] = 2550 // 25.5
	serv.HoldingRegisters[11] = 0
	serv.HoldingRegisters[12] = 10000
	serv.HoldingRegisters[13] = 50

	a, err := New(Config{Addr: addr, Register: 10, ReadLimits: true}, nil)
	require.NoError(t, err)

	st, err := a.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermostat.ActuatorState{Output: 25.5, Min: 0, Max: 100, Step: 0.5, Available: true}, st)
}

func TestStateStaticLimits(t *testing.T) {
	serv, addr := startServer(t)
	serv.HoldingRegisters[0] = 7

	a, err := New(Config{Addr: addr, Scale: 1, Min: 0, Max: 10, Step: 1}, nil)
	require.NoError(t, err)

	st, err := a.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thermostat.ActuatorState{Output: 7, Min: 0, Max: 10, Step: 1, Available: true}, st)
}

func TestStateUnreachable(t *testing.T) {
	a, err := New(Config{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = a.State(context.Background())
	assert.Error(t, err)
}

func TestSetValueIsWrittenByRun(t *testing.T) {
	serv, addr := startServer(t)
	a, err := New(Config{Addr: addr, Register: 3}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	a.SetValue(42.42)
	assert.Eventually(t, func() bool {
		return serv.HoldingRegisters[3] == 4242
	}, 2*time.Second, 10*time.Millisecond)

	a.SetValue(-1)
	assert.Eventually(t, func() bool {
		return serv.HoldingRegisters[3] == uint16(0xFF9C) // -100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetValueNeverBlocks(t *testing.T) {
	a, err := New(Config{Addr: "127.0.0.1:1"}, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		a.SetValue(float64(i))
	}
	assert.Equal(t, 9.0, <-a.pending)
}

func TestEncodeClamps(t *testing.T) {
	a, err := New(Config{Addr: "x:1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7FFF), a.encode(1e6))
	assert.Equal(t, uint16(0x8000), a.encode(-1e6))
}
