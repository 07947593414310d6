package wago

import "errors"

var (
	// ErrConnection indicates that the coupler could not be reached, including after one reconnect.
	ErrConnection = errors.New("wago: connection failed")
	// ErrUnknownRelay indicates a relay name missing from the configuration.
	ErrUnknownRelay = errors.New("wago: unknown relay")
	// ErrRelayMismatch indicates that the read-back relay state differs from the one written.
	ErrRelayMismatch = errors.New("wago: relay state mismatch")
	// ErrShortResponse indicates a register read that returned fewer bytes than requested.
	ErrShortResponse = errors.New("wago: short response")
)
