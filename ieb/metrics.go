package ieb

import "sync/atomic"

// Metrics contains atomic counters of a Controller.
type Metrics struct {
	// ExchangeCount is the number of request/reply round trips attempted on the wire.
	ExchangeCount atomic.Uint64
	// ExchangeErrCount is the number of operations that surfaced an error from an exchange.
	ExchangeErrCount atomic.Uint64
	// ReconnectCount is the number of automatic reconnects.
	ReconnectCount atomic.Uint64
	// ActuationCount is the number of motor movements started.
	ActuationCount atomic.Uint64
	// ActuationTimeoutCount is the number of movements that were not confirmed in time.
	ActuationTimeoutCount atomic.Uint64
}

func (m *Metrics) incExchangeCount() { m.ExchangeCount.Add(1) }
func (m *Metrics) incExchangeErrCount() { m.ExchangeErrCount.Add(1) }
func (m *Metrics) incReconnectCount() { m.ReconnectCount.Add(1) }
func (m *Metrics) incActuationCount() { m.ActuationCount.Add(1) }
func (m *Metrics) incActuationTimeoutCount() { m.ActuationTimeoutCount.Add(1) }
