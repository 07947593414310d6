package plcsim

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/arloliu/go-ieb/logger"
)

// DefaultOutputImageRegister is the holding register mirroring the first
// sixteen coils of a WAGO 8DO module, bit i being coil i.
const DefaultOutputImageRegister uint16 = 512

const (
	modbusSessionTimeout = 30 * time.Second
	modbusMaxClients     = 8
)

// ModbusServer simulates the WAGO fieldbus coupler over Modbus TCP.
// Coil writes are reflected into the output image register.
type ModbusServer struct {
	logger   logger.Logger
	imageReg uint16

	srvMu  sync.Mutex
	server *modbus.ModbusServer
	addr   string

	mu         sync.RWMutex
	holding    []uint16
	coils      []bool
	coilWrites int
}

// NewModbusServer creates a stopped coupler with the output image at DefaultOutputImageRegister.
func NewModbusServer(l logger.Logger) *ModbusServer {
	if l == nil {
		l = logger.GetLogger()
	}
	return &ModbusServer{
		logger:   l.With("component", "plcsim-modbus"),
		imageReg: DefaultOutputImageRegister,
		holding:  make([]uint16, 1024),
		coils:    make([]bool, 64),
	}
}

// Listen accepts Modbus TCP connections on address in the background.
// A zero port is replaced by a free one, see Addr.
func (s *ModbusServer) Listen(address string) error {
	addr, err := resolveAddr(address)
	if err != nil {
		return err
	}

	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	return s.startLocked(addr)
}

// Addr returns the listening address.
func (s *ModbusServer) Addr() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	return s.addr
}

// Port returns the listening TCP port.
func (s *ModbusServer) Port() int {
	addr, err := net.ResolveTCPAddr("tcp", s.Addr())
	if err != nil {
		return 0
	}
	return addr.Port
}

// Close stops the server and closes every client session.
func (s *ModbusServer) Close() {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	s.stopLocked()
}

// DropConnections closes every established client session and keeps listening on the same address.
func (s *ModbusServer) DropConnections() {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.server == nil {
		return
	}
	addr := s.addr
	s.stopLocked()
	if err := s.startLocked(addr); err != nil {
		s.logger.Error("modbus restart failed", "addr", addr, "error", err)
	}
}

// SetHoldingRegister stores value at address.
func (s *ModbusServer) SetHoldingRegister(address uint16, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(address) >= len(s.holding) {
		return fmt.Errorf("plcsim: register %d out of range", address)
	}
	s.holding[address] = value

	return nil
}

// HoldingRegister returns the value at address.
func (s *ModbusServer) HoldingRegister(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(address) >= len(s.holding) {
		return 0
	}
	return s.holding[address]
}

// SetCoil sets a coil as if the PLC program had driven it.
func (s *ModbusServer) SetCoil(address uint16, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(address) >= len(s.coils) {
		return fmt.Errorf("plcsim: coil %d out of range", address)
	}
	s.setCoilLocked(address, value)

	return nil
}

// Coil returns the coil state.
func (s *ModbusServer) Coil(address uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(address) >= len(s.coils) {
		return false
	}
	return s.coils[address]
}

// CoilWrites returns the number of coil write requests served.
func (s *ModbusServer) CoilWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.coilWrites
}

func (s *ModbusServer) startLocked(addr string) error {
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    modbusSessionTimeout,
		MaxClients: modbusMaxClients,
	}, &coupler{s: s})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	s.server, s.addr = server, addr
	s.logger.Debug("modbus server listening", "addr", addr)

	return nil
}

func (s *ModbusServer) stopLocked() {
	if s.server == nil {
		return
	}
	if err := s.server.Stop(); err != nil {
		s.logger.Warn("modbus server stop failed", "error", err)
	}
	s.server = nil
}

func (s *ModbusServer) setCoilLocked(address uint16, value bool) {
	s.coils[address] = value
	if address < 16 {
		mask := uint16(1) << address
		if value {
			s.holding[s.imageReg] |= mask
		} else {
			s.holding[s.imageReg] &^= mask
		}
	}
}

// coupler serves Modbus requests from the process image of a ModbusServer.
type coupler struct {
	s *ModbusServer
}

func (c *coupler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	s := c.s
	end := int(req.Addr) + int(req.Quantity)

	if req.IsWrite {
		s.mu.Lock()
		defer s.mu.Unlock()

		if end > len(s.coils) {
			return nil, modbus.ErrIllegalDataAddress
		}
		for i, v := range req.Args {
			s.setCoilLocked(req.Addr+uint16(i), v)
		}
		s.coilWrites++

		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if end > len(s.coils) {
		return nil, modbus.ErrIllegalDataAddress
	}
	return append([]bool(nil), s.coils[req.Addr:end]...), nil
}

func (c *coupler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	s := c.s
	end := int(req.Addr) + int(req.Quantity)

	if req.IsWrite {
		s.mu.Lock()
		defer s.mu.Unlock()

		if end > len(s.holding) {
			return nil, modbus.ErrIllegalDataAddress
		}
		copy(s.holding[req.Addr:end], req.Args)

		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if end > len(s.holding) {
		s.logger.Debug("modbus read rejected", "addr", req.Addr, "quantity", req.Quantity)
		return nil, modbus.ErrIllegalDataAddress
	}
	return append([]uint16(nil), s.holding[req.Addr:end]...), nil
}

// The coupler has no discrete inputs or input registers.
func (c *coupler) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (c *coupler) HandleInputRegisters(*modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

// resolveAddr replaces a zero port in address with a free one.
func resolveAddr(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if port != "0" && port != "" {
		return address, nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		return "", err
	}

	return addr, nil
}
