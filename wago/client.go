package wago

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"

	"github.com/arloliu/go-ieb/internal/pool"
	"github.com/arloliu/go-ieb/logger"
)

const maxRegistersPerRead = 125

// Client talks to the WAGO coupler. It is safe for concurrent use; requests
// are serialized on one Modbus TCP connection.
type Client struct {
	cfg    *Config
	logger logger.Logger

	mu        sync.Mutex
	handler   *mb.TCPClientHandler
	client    mb.Client
	connected bool
}

// NewClient creates a client. The connection is opened lazily.
func NewClient(cfg *Config) *Client {
	h := mb.NewTCPClientHandler(cfg.Addr())
	h.Timeout = cfg.timeout
	h.SlaveId = cfg.slaveID

	return &Client{
		cfg:     cfg,
		logger:  cfg.GetLogger().With("component", "wago", "addr", cfg.Addr()),
		handler: h,
		client:  mb.NewClient(h),
	}
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Connect opens the Modbus TCP connection.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	return c.handler.Close()
}

// ReadSensors reads and converts every configured sensor. Contiguous
// registers are fetched in a single request.
func (c *Client) ReadSensors(ctx context.Context) ([]Reading, error) {
	sensors := c.cfg.Sensors()
	slices.SortFunc(sensors, func(a, b Sensor) int { return cmp.Compare(a.Register, b.Register) })

	now := time.Now()
	out := make([]Reading, 0, len(sensors))
	for _, span := range spans(sensors) {
		first := span[0].Register
		qty := span[len(span)-1].Register - first + 1

		var data []byte
		err := c.do(ctx, "read sensors", func(cl mb.Client) (err error) {
			data, err = cl.ReadHoldingRegisters(first, qty)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(data) < int(qty)*2 {
			return nil, fmt.Errorf("%w: %d bytes for %d registers at %d", ErrShortResponse, len(data), qty, first)
		}

		for _, s := range span {
			raw := binary.BigEndian.Uint16(data[(s.Register-first)*2:])
			out = append(out, Reading{
				Name:  s.Name,
				Kind:  s.Kind.String(),
				Value: s.Kind.convert(raw),
				Unit:  s.Kind.Unit(),
				Raw:   raw,
				Time:  now,
			})
		}
	}

	return out, nil
}

// ReadRelays returns the power state of every configured relay.
func (c *Client) ReadRelays(ctx context.Context) ([]RelayState, error) {
	image, err := c.readImage(ctx)
	if err != nil {
		return nil, err
	}

	relays := c.cfg.Relays()
	out := make([]RelayState, 0, len(relays))
	for _, r := range relays {
		out = append(out, relayState(r, image))
	}

	return out, nil
}

// SetRelay switches the device power of relay name. A relay already in the
// requested state is left alone and changed is false. Otherwise the output is
// written, the coupler is given time to settle and the state is read back.
func (c *Client) SetRelay(ctx context.Context, name string, on bool) (state RelayState, changed bool, err error) {
	r, ok := c.cfg.Relay(name)
	if !ok {
		return RelayState{Name: name}, false, fmt.Errorf("%w: %q", ErrUnknownRelay, name)
	}

	image, err := c.readImage(ctx)
	if err != nil {
		return RelayState{Name: name}, false, err
	}
	if state = relayState(r, image); state.On == on {
		return state, false, nil
	}

	output := on != r.Inverted
	value := uint16(0x0000)
	if output {
		value = 0xFF00
	}
	err = c.do(ctx, "write relay", func(cl mb.Client) error {
		_, err := cl.WriteSingleCoil(r.Coil, value)
		return err
	})
	if err != nil {
		return state, false, err
	}
	c.logger.Info("relay switched", "relay", name, "on", on, "coil", r.Coil, "output", output)

	if err := pool.Sleep(ctx, c.cfg.settle); err != nil {
		return state, true, err
	}
	if image, err = c.readImage(ctx); err != nil {
		return state, true, err
	}
	if state = relayState(r, image); state.On != on {
		return state, true, fmt.Errorf("%w: %s reads %t after switching to %t", ErrRelayMismatch, name, state.On, on)
	}

	return state, true, nil
}

func (c *Client) readImage(ctx context.Context) (uint16, error) {
	var data []byte
	err := c.do(ctx, "read outputs", func(cl mb.Client) (err error) {
		data, err = cl.ReadHoldingRegisters(c.cfg.imageRegister, 1)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: output image", ErrShortResponse)
	}

	return binary.BigEndian.Uint16(data), nil
}

// do runs op on the connection. A failed request is retried once on a fresh connection.
func (c *Client) do(ctx context.Context, what string, op func(mb.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(); err != nil {
			return err
		}
	}

	err := op(c.client)
	if err == nil {
		return nil
	}
	if isModbusException(err) {
		return fmt.Errorf("wago: %s: %w", what, err)
	}

	c.logger.Warn("modbus request failed, reconnecting", "request", what, "error", err)
	_ = c.handler.Close()
	c.connected = false
	if recErr := c.connectLocked(); recErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, what, err)
	}
	if err := op(c.client); err != nil {
		if isModbusException(err) {
			return fmt.Errorf("wago: %s: %w", what, err)
		}
		return fmt.Errorf("%w: %s after reconnect: %w", ErrConnection, what, err)
	}

	return nil
}

func (c *Client) connectLocked() error {
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, c.cfg.Addr(), err)
	}
	c.connected = true

	return nil
}

func isModbusException(err error) bool {
	var mbErr *mb.ModbusError
	return errors.As(err, &mbErr)
}

func relayState(r Relay, image uint16) RelayState {
	output := image&(1<<r.Coil) != 0
	return RelayState{Name: r.Name, On: output != r.Inverted, Output: output}
}

// spans groups register-sorted sensors into runs readable with one request.
func spans(sensors []Sensor) [][]Sensor {
	var out [][]Sensor
	for i := 0; i < len(sensors); {
		j := i + 1
		for j < len(sensors) &&
			sensors[j].Register <= sensors[j-1].Register+1 &&
			sensors[j].Register-sensors[i].Register < maxRegistersPerRead {
			j++
		}
		out = append(out, sensors[i:j])
		i = j
	}
	return out
}
