package plcsim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arloliu/go-ieb/logger"
)

// DepthGauge simulates the Heidenhain counter reading the focus depth gauges.
// "SEND <ch>" is answered with "<ch> <value> mm". An unknown channel is left unanswered.
type DepthGauge struct {
	line *lineServer

	mu     sync.Mutex
	depths map[string]float64
}

// NewDepthGauge creates a stopped counter without channels.
func NewDepthGauge(l logger.Logger) *DepthGauge {
	if l == nil {
		l = logger.GetLogger()
	}
	g := &DepthGauge{depths: make(map[string]float64)}
	g.line = newLineServer(l.With("component", "depthsim"), "\r\n", g.reply)

	return g
}

// Start listens on addr.
func (g *DepthGauge) Start(addr string) error { return g.line.start(addr) }

// Addr returns the listening address.
func (g *DepthGauge) Addr() string { return g.line.addr() }

// Port returns the listening TCP port.
func (g *DepthGauge) Port() int { return g.line.port() }

// Close stops the counter.
func (g *DepthGauge) Close() error { return g.line.close() }

// Set sets the reading of channel in millimetres.
func (g *DepthGauge) Set(channel string, mm float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.depths[channel] = mm
}

// Remove disconnects the gauge on channel.
func (g *DepthGauge) Remove(channel string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.depths, channel)
}

func (g *DepthGauge) reply(line []byte) []byte {
	ch, ok := strings.CutPrefix(string(line), "SEND ")
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	mm, ok := g.depths[ch]
	if !ok {
		return nil
	}

	return fmt.Appendf(nil, "%s %+.4f mm\r\n", ch, mm)
}
