package ieb

import (
	"fmt"
	"strings"
	"time"
)

// Conventional device group names used by the Hartmann and shutter operations.
const (
	GroupHartmannLeft  = "hartmann_left"
	GroupHartmannRight = "hartmann_right"
	GroupShutter       = "shutter"
)

// Side selects one or both Hartmann doors.
type Side string

// Hartmann door sides.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	// SideBoth moves both doors, left first.
	SideBoth Side = "both"
)

// ParseSide parses "left", "right" or "both".
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideLeft, SideRight, SideBoth:
		return side, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

func (s Side) groups() ([]string, error) {
	switch s {
	case SideLeft:
		return []string{GroupHartmannLeft}, nil
	case SideRight:
		return []string{GroupHartmannRight}, nil
	case SideBoth:
		return []string{GroupHartmannLeft, GroupHartmannRight}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSide, string(s))
}

// Actuation describes one motor movement: Output is asserted until Confirm reads ConfirmValue.
type Actuation struct {
	Output       string
	Confirm      string
	ConfirmValue bool
}

// DeviceGroup binds the channels that make up one mechanism, such as a Hartmann door.
type DeviceGroup struct {
	Name string
	// Power optionally names the relay that must be on before the group may move.
	Power string
	// OpenSensor and ClosedSensor are the limit switches used to derive Position.
	OpenSensor   string
	ClosedSensor string

	Open  *Actuation
	Close *Actuation
	Home  *Actuation
}

func (g DeviceGroup) actuations() map[string]*Actuation {
	return map[string]*Actuation{"open": g.Open, "close": g.Close, "home": g.Home}
}

// Position is the mechanism position derived from its limit switches.
type Position uint8

const (
	// PositionUnknown means neither limit switch is active, or the switches were not read.
	PositionUnknown Position = iota
	// PositionOpen means only the open switch is active.
	PositionOpen
	// PositionClosed means only the closed switch is active.
	PositionClosed
	// PositionInvalid means both limit switches are active.
	PositionInvalid
)

// String returns the lower case name used in reports.
func (p Position) String() string {
	switch p {
	case PositionOpen:
		return "open"
	case PositionClosed:
		return "closed"
	case PositionInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ActuationState is a step of the actuation state machine.
type ActuationState uint8

const (
	// ActuationIdle means no motion is in progress.
	ActuationIdle ActuationState = iota
	// ActuationAsserting means the motor output is being driven.
	ActuationAsserting
	// ActuationPolling means the confirm switch is being polled.
	ActuationPolling
	// ActuationConfirmed means the confirm switch reached the expected value.
	ActuationConfirmed
	// ActuationTimedOut means the confirm switch did not change in time.
	ActuationTimedOut
	// ActuationDeasserting means the motor output is being released.
	ActuationDeasserting
	// ActuationFaulted means the motor output could not be de-asserted.
	ActuationFaulted
)

func (s ActuationState) String() string {
	switch s {
	case ActuationIdle:
		return "idle"
	case ActuationAsserting:
		return "asserting"
	case ActuationPolling:
		return "polling"
	case ActuationConfirmed:
		return "confirmed"
	case ActuationTimedOut:
		return "timed_out"
	case ActuationDeasserting:
		return "deasserting"
	case ActuationFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// GroupStatus is the last known state of a device group.
type GroupStatus struct {
	Name       string
	State      ActuationState
	Position   Position
	LastAction string
	Err        error
	Updated    time.Time
}

// GroupReport is the serializable form of a GroupStatus.
type GroupReport struct {
	Name       string    `json:"name" msgpack:"name"`
	State      string    `json:"state" msgpack:"state"`
	Position   string    `json:"position" msgpack:"position"`
	LastAction string    `json:"last_action,omitempty" msgpack:"last_action,omitempty"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Updated    time.Time `json:"updated" msgpack:"updated"`
}

// Report converts s into its serializable form.
func (s GroupStatus) Report() GroupReport {
	r := GroupReport{
		Name:       s.Name,
		State:      s.State.String(),
		Position:   s.Position.String(),
		LastAction: s.LastAction,
		Updated:    s.Updated,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}

	return r
}
