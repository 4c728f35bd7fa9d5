// Package plc publishes inspection verdicts to line controllers over Modbus TCP.
package plc

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/sirupsen/logrus"

	"lid-inspector/internal/domain"
)

const (
	// CoilCount is the size of the sequential coil block starting at address 0.
	CoilCount = 100

	RegisterAccepted = 0
	RegisterRejected = 1
	inputRegisters   = 2
)

// Signaler drives the pass/fail output seen by the line.
type Signaler interface {
	Signal(verdict domain.Verdict) error
	SetCounters(c domain.Counters)
}

type Config struct {
	Addr        string
	CoilAddress uint16
	MaxClients  uint
	Timeout     time.Duration
	Logger      *logrus.Logger
}

// Server holds the coil and register image and serves it over Modbus TCP.
type Server struct {
	cfg Config

	mu     sync.RWMutex
	coils  [CoilCount]bool
	inputs [inputRegisters]uint16

	srv *modbus.ModbusServer
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.CoilAddress >= CoilCount {
		return nil, fmt.Errorf("coil address %d outside 0..%d", cfg.CoilAddress, CoilCount-1)
	}
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:502"
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Server{cfg: cfg}, nil
}

// Start begins accepting Modbus TCP clients.
func (s *Server) Start() error {
	url := s.cfg.Addr
	if !strings.Contains(url, "://") {
		url = "tcp://" + url
	}
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        url,
		Timeout:    s.cfg.Timeout,
		MaxClients: s.cfg.MaxClients,
	}, s)
	if err != nil {
		return fmt.Errorf("create modbus server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start modbus server on %s: %w", s.cfg.Addr, err)
	}
	s.srv = srv
	s.cfg.Logger.Infof("modbus server listening on %s (result coil %d)", s.cfg.Addr, s.cfg.CoilAddress)
	return nil
}

func (s *Server) Shutdown() {
	if s.srv == nil {
		return
	}
	if err := s.srv.Stop(); err != nil {
		s.cfg.Logger.Warnf("stop modbus server: %v", err)
	}
	s.cfg.Logger.Info("modbus server stopped")
}

// Signal sets the result coil to 1 for an accepted lid and 0 for anything else.
func (s *Server) Signal(verdict domain.Verdict) error {
	s.mu.Lock()
	s.coils[s.cfg.CoilAddress] = verdict.Accepted()
	s.mu.Unlock()
	return nil
}

// SetCounters mirrors the session counters into the input registers.
func (s *Server) SetCounters(c domain.Counters) {
	s.mu.Lock()
	s.inputs[RegisterAccepted] = clampUint16(c.Accepted)
	s.inputs[RegisterRejected] = clampUint16(c.Rejected)
	s.mu.Unlock()
}

// Coil returns the current value of a coil.
func (s *Server) Coil(addr uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(addr) >= CoilCount {
		return false
	}
	return s.coils[addr]
}

func (s *Server) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if int(req.Addr)+int(req.Quantity) > CoilCount {
		return nil, modbus.ErrIllegalDataAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IsWrite {
		for i, v := range req.Args {
			s.coils[int(req.Addr)+i] = v
		}
		s.cfg.Logger.WithField("client", req.ClientAddr).Debugf("coils %d..%d written", req.Addr, int(req.Addr)+len(req.Args)-1)
		return nil, nil
	}

	res := make([]bool, req.Quantity)
	copy(res, s.coils[req.Addr:int(req.Addr)+int(req.Quantity)])
	return res, nil
}

func (s *Server) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (s *Server) HandleHoldingRegisters(*modbus.HoldingRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func (s *Server) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if int(req.Addr)+int(req.Quantity) > inputRegisters {
		return nil, modbus.ErrIllegalDataAddress
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]uint16, req.Quantity)
	copy(res, s.inputs[req.Addr:int(req.Addr)+int(req.Quantity)])
	return res, nil
}

func clampUint16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

var (
	_ Signaler              = (*Server)(nil)
	_ modbus.RequestHandler = (*Server)(nil)
)
