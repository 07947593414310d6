package ieb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/internal/pool"
)

// OpenHartmann opens the Hartmann door on side. With SideBoth the left door is
// driven first, then the right one; both are always attempted.
func (c *Controller) OpenHartmann(ctx context.Context, side Side) error {
	return c.hartmann(ctx, side, "open")
}

// CloseHartmann closes the Hartmann door on side.
func (c *Controller) CloseHartmann(ctx context.Context, side Side) error {
	return c.hartmann(ctx, side, "close")
}

// OpenShutter opens the exposure shutter.
func (c *Controller) OpenShutter(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.actuate(ctx, GroupShutter, "open")
}

// CloseShutter closes the exposure shutter.
func (c *Controller) CloseShutter(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.actuate(ctx, GroupShutter, "close")
}

// SetHome homes every device group that defines a home actuation, in name order.
func (c *Controller) SetHome(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	var errs []error
	for _, name := range c.cfg.GroupNames() {
		if g, _ := c.cfg.Group(name); g.Home == nil {
			continue
		}
		if err := c.actuate(ctx, name, "home"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Controller) hartmann(ctx context.Context, side Side, verb string) error {
	if err := c.ready(); err != nil {
		return err
	}
	groups, err := side.groups()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range groups {
		if err := c.actuate(ctx, name, verb); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// actuate runs one movement of a device group:
//
//	Idle -> Asserting -> Polling -> Confirmed|TimedOut -> Deasserting -> Idle|Faulted
//
// The output is always de-asserted once assertion has been attempted, even
// when the caller's context is cancelled.
func (c *Controller) actuate(ctx context.Context, groupName, verb string) error {
	g, ok := c.cfg.Group(groupName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, groupName)
	}
	act := g.actuations()[verb]
	if act == nil {
		return fmt.Errorf("%w: %q has no %s actuation", ErrUnknownGroup, groupName, verb)
	}

	lock := c.groupLocks[groupName]
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	log := c.logger.With("group", groupName, "action", verb)
	output := c.cfg.channels[act.Output]
	confirm := c.cfg.channels[act.Confirm]

	if g.Power != "" {
		st, err := c.read(ctx, c.cfg.channels[g.Power])
		if err != nil {
			return err
		}
		if on, _ := st.Bool(); !on {
			return fmt.Errorf("%w: %s power relay %s is off", ErrDevice, groupName, g.Power)
		}
	}

	fresh, err := c.readSensors(ctx, g.OpenSensor, g.ClosedSensor, act.Confirm)
	if err != nil {
		return err
	}
	// Unknown is accepted: a door stopped between its switches must stay recoverable.
	if pos := positionOf(g, fresh); pos == PositionInvalid {
		perr := fmt.Errorf("%w: %s position is %s, both limit switches are active", ErrDevice, groupName, pos)
		c.setGroup(groupName, ActuationIdle, verb, perr)
		log.Warn("refusing to move", "error", perr)

		return perr
	}
	if v, _ := fresh[act.Confirm].Bool(); v == act.ConfirmValue {
		log.Debug("already in position, motor not driven")
		c.setGroup(groupName, ActuationIdle, verb, nil)

		return nil
	}

	c.metrics.incActuationCount()
	log.Info("actuation started", "output", output.Name, "confirm", confirm.Name)

	c.setGroup(groupName, ActuationAsserting, verb, nil)
	_, opErr := c.write(ctx, output, codec.BoolValue(true))
	if opErr == nil {
		c.setGroup(groupName, ActuationPolling, verb, nil)
		opErr = c.poll(ctx, confirm, act.ConfirmValue)
		switch {
		case opErr == nil:
			c.setGroup(groupName, ActuationConfirmed, verb, nil)
		case errors.Is(opErr, ErrActuationTimeout):
			c.setGroup(groupName, ActuationTimedOut, verb, opErr)
		}
	}

	c.setGroup(groupName, ActuationDeasserting, verb, opErr)
	if _, err := c.write(context.WithoutCancel(ctx), output, codec.BoolValue(false)); err != nil {
		derr := fmt.Errorf("%w: %s output %s could not be de-asserted: %w", ErrConnection, groupName, output.Name, err)
		c.tr.Fault(derr)
		c.setGroup(groupName, ActuationFaulted, verb, derr)
		log.Error("motor output left asserted", "output", output.Name, "error", err)

		return errors.Join(opErr, derr)
	}
	switch {
	case !c.initialized.Load():
		// stopped while moving; the de-assert may have reconnected
		_ = c.tr.Close()
	case ctx.Err() == nil:
		c.refreshSensors(ctx, g)
	}

	c.setGroup(groupName, ActuationIdle, verb, opErr)
	if opErr != nil {
		log.Warn("actuation failed", "error", opErr)
		return opErr
	}
	log.Info("actuation confirmed")

	return nil
}

// poll reads confirm at the configured interval until it equals want or the actuation timeout elapses.
func (c *Controller) poll(ctx context.Context, confirm Channel, want bool) error {
	timeout := c.cfg.actuationTimeout
	deadline := time.Now().Add(timeout)

	for {
		if err := pool.Sleep(ctx, c.cfg.pollInterval); err != nil {
			return err
		}
		if !c.initialized.Load() {
			return ErrNotInitialized
		}

		st, err := c.read(ctx, confirm)
		switch {
		case err == nil:
			if v, _ := st.Bool(); v == want {
				return nil
			}
		case isTransportError(err), isContextError(err):
			return err
		default:
			c.logger.Debug("confirm read failed, still polling", "channel", confirm.Name, "error", err)
		}

		if !time.Now().Before(deadline) {
			c.metrics.incActuationTimeoutCount()
			return fmt.Errorf("%w: %s did not report %t within %v", ErrActuationTimeout, confirm.Name, want, timeout)
		}
	}
}

// readSensors reads each named digital input once and returns their fresh states.
func (c *Controller) readSensors(ctx context.Context, names ...string) (map[string]ChannelState, error) {
	fresh := make(map[string]ChannelState, len(names))
	for _, name := range names {
		if _, done := fresh[name]; done || name == "" {
			continue
		}
		st, err := c.read(ctx, c.cfg.channels[name])
		if err != nil {
			return nil, err
		}
		fresh[name] = st
	}

	return fresh, nil
}

// refreshSensors rereads the limit switches of g so that its position reflects the end of the movement.
func (c *Controller) refreshSensors(ctx context.Context, g DeviceGroup) {
	for _, name := range []string{g.OpenSensor, g.ClosedSensor} {
		if name == "" {
			continue
		}
		if _, err := c.read(ctx, c.cfg.channels[name]); err != nil {
			c.logger.Debug("limit switch refresh failed", "channel", name, "error", err)
		}
	}
}

func (c *Controller) setGroup(name string, state ActuationState, action string, err error) {
	c.groups.Store(name, GroupStatus{
		Name:       name,
		State:      state,
		LastAction: action,
		Err:        err,
		Updated:    time.Now(),
	})
}

// positionOf derives the position of g from the cached limit switches.
func positionOf(g DeviceGroup, channels map[string]ChannelState) Position {
	open, hasOpen := sensor(channels, g.OpenSensor)
	closed, hasClosed := sensor(channels, g.ClosedSensor)

	switch {
	case hasOpen && hasClosed:
		switch {
		case open && closed:
			return PositionInvalid
		case open:
			return PositionOpen
		case closed:
			return PositionClosed
		default:
			return PositionUnknown
		}
	case hasOpen:
		if open {
			return PositionOpen
		}
		return PositionClosed
	case hasClosed:
		if closed {
			return PositionClosed
		}
		return PositionOpen
	default:
		return PositionUnknown
	}
}

func sensor(channels map[string]ChannelState, name string) (value bool, known bool) {
	if name == "" {
		return false, false
	}
	st, ok := channels[name]
	if !ok || st.Stale {
		return false, false
	}
	return st.Bool()
}
