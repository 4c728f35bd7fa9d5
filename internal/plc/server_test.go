package plc

import (
	"math"
	"testing"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lid-inspector/internal/domain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Config{CoilAddress: 1})
	require.NoError(t, err)
	return s
}

func TestSignalDrivesResultCoil(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.Signal(domain.VerdictAccept))
	assert.True(t, s.Coil(1))

	require.NoError(t, s.Signal(domain.VerdictReject))
	assert.False(t, s.Coil(1))

	require.NoError(t, s.Signal(domain.VerdictAccept))
	require.NoError(t, s.Signal(domain.VerdictError))
	assert.False(t, s.Coil(1))
	assert.False(t, s.Coil(0))
}

func TestHandleCoilsReadWrite(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Signal(domain.VerdictAccept))

	res, err := s.HandleCoils(&modbus.CoilsRequest{Addr: 0, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, res)

	_, err = s.HandleCoils(&modbus.CoilsRequest{Addr: 1, Quantity: 1, IsWrite: true, Args: []bool{false}})
	require.NoError(t, err)
	assert.False(t, s.Coil(1))
}

func TestHandleCoilsOutOfRange(t *testing.T) {
	s := newTestServer(t)

	_, err := s.HandleCoils(&modbus.CoilsRequest{Addr: 99, Quantity: 2})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)

	_, err = s.HandleCoils(&modbus.CoilsRequest{Addr: 99, Quantity: 1})
	assert.NoError(t, err)
}

func TestInputRegistersExposeCounters(t *testing.T) {
	s := newTestServer(t)
	s.SetCounters(domain.Counters{Accepted: 12, Rejected: math.MaxUint16 + 10})

	res, err := s.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 0, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{12, math.MaxUint16}, res)

	_, err = s.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 1, Quantity: 2})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}

func TestUnsupportedTables(t *testing.T) {
	s := newTestServer(t)

	_, err := s.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrIllegalFunction)
	_, err = s.HandleDiscreteInputs(&modbus.DiscreteInputsRequest{Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrIllegalFunction)
}

func TestNewServerRejectsCoilOutsideBlock(t *testing.T) {
	_, err := NewServer(Config{CoilAddress: CoilCount})
	assert.Error(t, err)
}
