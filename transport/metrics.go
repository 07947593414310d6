package transport

import "sync/atomic"

// Metrics contains atomic counters of a Transport.
// Fields can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// ConnectCount is the number of successful connects.
	ConnectCount atomic.Uint64
	// ConnectErrCount is the number of failed connect attempts.
	ConnectErrCount atomic.Uint64
	// SendCount is the number of frames written.
	SendCount atomic.Uint64
	// RecvCount is the number of reply lines received.
	RecvCount atomic.Uint64
	// TimeoutCount is the number of receive deadlines that expired.
	TimeoutCount atomic.Uint64
	// IOErrCount is the number of failed reads and writes other than timeouts.
	IOErrCount atomic.Uint64
}

func (m *Metrics) incConnectCount() { m.ConnectCount.Add(1) }
func (m *Metrics) incConnectErrCount() { m.ConnectErrCount.Add(1) }
func (m *Metrics) incSendCount() { m.SendCount.Add(1) }
func (m *Metrics) incRecvCount() { m.RecvCount.Add(1) }
func (m *Metrics) incTimeoutCount() { m.TimeoutCount.Add(1) }
func (m *Metrics) incIOErrCount() { m.IOErrCount.Add(1) }
