package ieb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/internal/queue"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

// Controller drives one IEB PLC.
//
// All wire traffic goes through a single FIFO lock, so at most one command is
// in flight and concurrent callers are served in arrival order. The channel
// and group caches can be read at any time through Snapshot.
type Controller struct {
	cfg    *Config
	logger logger.Logger
	tr     *transport.Transport

	wire       *queue.FIFOLock
	groupLocks map[string]*queue.FIFOLock

	channels *xsync.MapOf[string, ChannelState]
	groups   *xsync.MapOf[string, GroupStatus]

	initialized atomic.Bool
	identity    atomic.Pointer[string]
	metrics     Metrics
}

// NewController creates a controller. No connection is made until Initialize.
func NewController(cfg *Config) *Controller {
	c := &Controller{
		cfg:        cfg,
		logger:     cfg.GetLogger().With("component", "ieb"),
		wire:       queue.NewFIFOLock(),
		groupLocks: make(map[string]*queue.FIFOLock),
		channels:   xsync.NewMapOf[string, ChannelState](),
		groups:     xsync.NewMapOf[string, GroupStatus](),
	}
	c.tr = transport.New(cfg.Transport(), c.onConnStateChange)

	for _, ch := range cfg.Channels() {
		c.channels.Store(ch.Name, ChannelState{Name: ch.Name, Kind: ch.Kind, Unit: ch.Unit})
	}
	for _, name := range cfg.GroupNames() {
		c.groupLocks[name] = queue.NewFIFOLock()
		c.groups.Store(name, GroupStatus{Name: name})
	}

	return c
}

// Config returns the controller configuration.
func (c *Controller) Config() *Config { return c.cfg }

// Metrics returns the controller counters.
func (c *Controller) Metrics() *Metrics { return &c.metrics }

// TransportMetrics returns the counters of the underlying connection.
func (c *Controller) TransportMetrics() *transport.Metrics { return c.tr.Metrics() }

// ConnState returns the state of the PLC connection.
func (c *Controller) ConnState() transport.ConnState { return c.tr.State() }

// AddConnStateHandler registers a handler for PLC connection state changes.
func (c *Controller) AddConnStateHandler(h transport.ConnStateChangeHandler) {
	c.tr.AddStateHandler(h)
}

// Initialized reports whether Initialize succeeded and Stop has not been called since.
func (c *Controller) Initialized() bool { return c.initialized.Load() }

// Identity returns the identity string read by the last successful Initialize.
func (c *Controller) Identity() string {
	if id := c.identity.Load(); id != nil {
		return *id
	}
	return ""
}

// Initialize connects to the PLC, checks its identity, drives every output to
// its safe value and reads every input to populate the first snapshot.
//
// It fails with ErrInitialization, and leaves the connection closed, when the
// identity does not start with the configured signature.
func (c *Controller) Initialize(ctx context.Context) (*StatusSnapshot, error) {
	if err := c.wire.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.wire.Unlock()

	c.initialized.Store(false)
	if err := c.tr.Connect(ctx); err != nil {
		return nil, err
	}

	idCh := c.cfg.channels[c.cfg.identityChannel]
	st, err := c.readLocked(ctx, idCh)
	if err != nil {
		_ = c.tr.Close()
		return nil, fmt.Errorf("%w: identity read: %w", ErrInitialization, err)
	}
	id, _ := st.Value.Text()
	if !strings.HasPrefix(id, c.cfg.signature) {
		_ = c.tr.Close()
		return nil, fmt.Errorf("%w: identity %q does not match signature %q", ErrInitialization, id, c.cfg.signature)
	}
	c.identity.Store(&id)
	c.logger.Info("plc identified", "identity", id)

	for _, ch := range c.cfg.ChannelsOfKind(codec.KindDigitalOut, codec.KindAnalogOut) {
		v, ok := ch.safeValue()
		if !ok {
			continue
		}
		if _, err := c.writeLocked(ctx, ch, v); err != nil {
			if isTransportError(err) {
				return nil, err
			}
			c.logger.Warn("failed to drive output to safe value", "channel", ch.Name, "value", v, "error", err)
		}
	}

	for _, ch := range c.cfg.ChannelsOfKind(codec.KindDigitalIn, codec.KindAnalogIn) {
		if _, err := c.readLocked(ctx, ch); err != nil {
			if isTransportError(err) {
				return nil, err
			}
			c.logger.Warn("initial read failed", "channel", ch.Name, "error", err)
		}
	}

	c.initialized.Store(true)

	return c.Snapshot(), nil
}

// Stop closes the connection. Operations other than Initialize fail with
// ErrNotInitialized afterwards. An exchange already on the wire completes first.
func (c *Controller) Stop() error {
	if err := c.wire.Lock(context.Background()); err != nil {
		return err
	}
	defer c.wire.Unlock()

	c.initialized.Store(false)
	c.logger.Info("controller stopped")

	return c.tr.Close()
}

// Status polls every digital input and returns a snapshot of all channels.
// Analog channels are served from the cache filled by WAGOEnv.
//
// An input that cannot be read is marked stale in the snapshot. The call only
// fails when the PLC cannot be reconnected or ctx is done.
func (c *Controller) Status(ctx context.Context) (*StatusSnapshot, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	for _, ch := range c.cfg.ChannelsOfKind(codec.KindDigitalIn) {
		if _, err := c.read(ctx, ch); err != nil {
			if errors.Is(err, errUnreachable) || isContextError(err) {
				return nil, err
			}
			c.logger.Warn("status poll failed", "channel", ch.Name, "error", err)
		}
	}

	return c.Snapshot(), nil
}

// WAGOEnv reads every analog input. Channels that fail are returned stale with
// their error; the call only fails with ErrPartialRead when none could be read.
//
// Once the PLC cannot be reconnected, the remaining channels are marked stale
// with the same error instead of being read.
func (c *Controller) WAGOEnv(ctx context.Context) (*EnvSnapshot, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	analog := c.cfg.ChannelsOfKind(codec.KindAnalogIn)
	env := &EnvSnapshot{Readings: make(map[string]ChannelState, len(analog))}
	var (
		errs []error
		down error
	)
	for _, ch := range analog {
		if down != nil {
			env.Readings[ch.Name] = c.markStale(ch, down)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, down))
			continue
		}

		st, err := c.read(ctx, ch)
		if err != nil {
			if isContextError(err) {
				return nil, err
			}
			if errors.Is(err, errUnreachable) {
				down = err
			}
			c.logger.Warn("environment read failed", "channel", ch.Name, "error", err)
			errs = append(errs, err)
		}
		env.Readings[ch.Name] = st
	}
	env.Time = time.Now()

	if len(analog) > 0 && len(errs) == len(analog) {
		return env, fmt.Errorf("%w: none of %d environment channels could be read: %w", ErrPartialRead, len(analog), errors.Join(errs...))
	}

	return env, nil
}

// WAGOPower reads a digital channel, typically a power relay.
func (c *Controller) WAGOPower(ctx context.Context, channel string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	ch, err := c.digital(channel)
	if err != nil {
		return false, err
	}

	st, err := c.read(ctx, ch)
	if err != nil {
		return false, err
	}
	on, _ := st.Bool()

	return on, nil
}

// SetWAGOPower switches a relay and returns the state echoed by the PLC.
// Every call performs a round trip, even when the relay is already in the requested state.
func (c *Controller) SetWAGOPower(ctx context.Context, channel string, on bool) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	ch, err := c.digital(channel)
	if err != nil {
		return false, err
	}

	st, err := c.write(ctx, ch, codec.BoolValue(on))
	got, _ := st.Bool()

	return got, err
}

// SendCommand sends a raw request body and returns the raw reply body.
// The channel cache is not updated.
func (c *Controller) SendCommand(ctx context.Context, raw string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	frame, err := codec.EncodeRaw(raw)
	if err != nil {
		return "", err
	}

	if err := c.wire.Lock(ctx); err != nil {
		return "", err
	}
	line, err := c.roundTrip(ctx, frame, strings.TrimSpace(raw))
	c.wire.Unlock()
	if err != nil {
		c.metrics.incExchangeErrCount()
		return "", err
	}

	return codec.DecodeRaw(line)
}

// Ping reads the identity channel.
func (c *Controller) Ping(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	st, err := c.read(ctx, c.cfg.channels[c.cfg.identityChannel])
	if err != nil {
		return "", err
	}
	id, _ := st.Value.Text()

	return id, nil
}

// Snapshot returns the cached state of every channel and group without touching the wire.
func (c *Controller) Snapshot() *StatusSnapshot {
	s := &StatusSnapshot{
		Time:       time.Now(),
		Connection: c.tr.State(),
		Channels:   make(map[string]ChannelState, c.channels.Size()),
		Groups:     make(map[string]GroupStatus, c.groups.Size()),
	}
	c.channels.Range(func(name string, st ChannelState) bool {
		s.Channels[name] = st
		return true
	})
	c.groups.Range(func(name string, gs GroupStatus) bool {
		if g, ok := c.cfg.Group(name); ok {
			gs.Position = positionOf(g, s.Channels)
		}
		s.Groups[name] = gs
		return true
	})

	return s
}

func (c *Controller) onConnStateChange(prev, cur transport.ConnState) {
	c.logger.Info("plc connection state changed", "from", prev.String(), "to", cur.String())
}

func (c *Controller) ready() error {
	if !c.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (c *Controller) lookup(name string) (Channel, error) {
	ch, ok := c.cfg.Channel(name)
	if !ok {
		return Channel{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch, nil
}

func (c *Controller) digital(name string) (Channel, error) {
	ch, err := c.lookup(name)
	if err != nil {
		return ch, err
	}
	if !ch.Kind.Digital() {
		return ch, fmt.Errorf("%w: %s is %s, not a digital channel", ErrEncoding, name, ch.Kind)
	}
	return ch, nil
}

func (c *Controller) read(ctx context.Context, ch Channel) (ChannelState, error) {
	if err := c.wire.Lock(ctx); err != nil {
		st, _ := c.channels.Load(ch.Name)
		return st, err
	}
	defer c.wire.Unlock()

	return c.readLocked(ctx, ch)
}

func (c *Controller) write(ctx context.Context, ch Channel, v codec.Value) (ChannelState, error) {
	if err := c.wire.Lock(ctx); err != nil {
		st, _ := c.channels.Load(ch.Name)
		return st, err
	}
	defer c.wire.Unlock()

	return c.writeLocked(ctx, ch, v)
}

// readLocked reads ch and updates the cache. The caller must hold the wire lock.
func (c *Controller) readLocked(ctx context.Context, ch Channel) (ChannelState, error) {
	reply, err := c.execute(ctx, codec.NewRead(ch.wire()))
	if err != nil {
		return c.markStale(ch, err), err
	}

	return c.update(ch, ch.fromWire(reply.Value), reply.Unit), nil
}

// writeLocked writes the logical value v to ch and checks the echo. The caller must hold the wire lock.
func (c *Controller) writeLocked(ctx context.Context, ch Channel, v codec.Value) (ChannelState, error) {
	reply, err := c.execute(ctx, codec.NewWrite(ch.wire(), ch.toWire(v)))
	if err != nil {
		return c.markStale(ch, err), err
	}

	got := ch.fromWire(reply.Value)
	st := c.update(ch, got, reply.Unit)
	if !got.Equal(v) {
		c.metrics.incExchangeErrCount()
		return st, fmt.Errorf("%w: %s reports %s after writing %s", ErrDevice, ch.Name, got, v)
	}

	return st, nil
}

// execute encodes cmd, performs the round trip and decodes the reply.
func (c *Controller) execute(ctx context.Context, cmd codec.Command) (codec.Reply, error) {
	cmd.Deadline = time.Now().Add(c.cfg.transport.ReadTimeout())
	frame, err := codec.Encode(cmd)
	if err != nil {
		return codec.Reply{}, err
	}

	reply, err := c.exchange(ctx, cmd, frame)
	if err != nil {
		c.metrics.incExchangeErrCount()
		c.logger.Debug("command failed", "id", cmd.ID, "command", cmd.String(), "error", err)

		return reply, err
	}

	return reply, nil
}

func (c *Controller) exchange(ctx context.Context, cmd codec.Command, frame []byte) (codec.Reply, error) {
	line, err := c.roundTrip(ctx, frame, cmd.String())
	if err != nil {
		return codec.Reply{}, err
	}
	reply, err := codec.Decode(cmd, line)
	if err != nil {
		return codec.Reply{}, err
	}
	if !reply.OK {
		return reply, fmt.Errorf("%w: %s: %s", ErrDevice, cmd.Channel.Name, reply.ErrorText)
	}

	return reply, nil
}

// roundTrip sends frame and waits for one reply line. A transport failure is
// followed by exactly one reconnect and retry. The caller must hold the wire lock.
func (c *Controller) roundTrip(ctx context.Context, frame []byte, what string) ([]byte, error) {
	line, err := c.tryRoundTrip(ctx, frame)
	if err == nil || !isTransportError(err) {
		return line, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w (retry cancelled: %w)", err, ctxErr)
	}

	c.metrics.incReconnectCount()
	c.logger.Warn("reconnecting after transport failure", "command", what, "error", err)

	line, err = c.tryRoundTrip(ctx, frame)
	if err != nil {
		if isTransportError(err) {
			return nil, fmt.Errorf("%w: %s failed after reconnect: %w", ErrConnection, what, err)
		}
		return nil, err
	}

	return line, nil
}

func (c *Controller) tryRoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	if c.tr.State() != transport.Connected {
		if err := c.tr.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%w (%w)", err, errUnreachable)
		}
	}
	c.metrics.incExchangeCount()
	if err := c.tr.Send(frame); err != nil {
		return nil, err
	}

	return c.tr.Receive(0)
}

func (c *Controller) update(ch Channel, v codec.Value, unit string) ChannelState {
	if unit == "" {
		unit = ch.Unit
	}
	st := ChannelState{Name: ch.Name, Kind: ch.Kind, Value: v, Unit: unit, Updated: time.Now()}
	c.channels.Store(ch.Name, st)

	return st
}

// markStale flags ch as stale while keeping its last value. Encoding errors
// never reach the wire and leave the state untouched.
func (c *Controller) markStale(ch Channel, err error) ChannelState {
	st, _ := c.channels.Load(ch.Name)
	if errors.Is(err, ErrEncoding) {
		return st
	}
	st.Name, st.Kind = ch.Name, ch.Kind
	st.Stale = true
	st.Err = err
	c.channels.Store(ch.Name, st)

	return st
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
