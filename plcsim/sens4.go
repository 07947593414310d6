package plcsim

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/arloliu/go-ieb/logger"
)

var sens4QueryRe = regexp.MustCompile(`^@([0-9]{1,3})([A-Z])\?$`)

type transducer struct {
	pressure    float64
	temperature float64
}

// SENS4 simulates a gateway with SENS4 pressure transducers behind it.
// A query for an unknown device is left unanswered, like on a real bus.
type SENS4 struct {
	line *lineServer

	mu      sync.Mutex
	devices map[int]transducer
	queries int
}

// NewSENS4 creates a stopped gateway without transducers.
func NewSENS4(l logger.Logger) *SENS4 {
	if l == nil {
		l = logger.GetLogger()
	}
	s := &SENS4{devices: make(map[int]transducer)}
	s.line = newLineServer(l.With("component", "sens4sim"), `\`, s.reply)

	return s
}

// Start listens on addr.
func (s *SENS4) Start(addr string) error { return s.line.start(addr) }

// Addr returns the listening address.
func (s *SENS4) Addr() string { return s.line.addr() }

// Port returns the listening TCP port.
func (s *SENS4) Port() int { return s.line.port() }

// Close stops the gateway.
func (s *SENS4) Close() error { return s.line.close() }

// SetTransducer adds or updates the transducer answering to id.
func (s *SENS4) SetTransducer(id int, pressure, temperature float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[id] = transducer{pressure: pressure, temperature: temperature}
}

// RemoveTransducer takes the transducer answering to id off the line.
func (s *SENS4) RemoveTransducer(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.devices, id)
}

// Queries returns the number of queries received.
func (s *SENS4) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queries
}

func (s *SENS4) reply(line []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries++
	m := sens4QueryRe.FindSubmatch(line)
	if m == nil {
		return nil
	}
	id, _ := strconv.Atoi(string(m[1]))
	dev, ok := s.devices[id]
	if !ok {
		return nil
	}

	switch m[2][0] {
	case 'P':
		return fmt.Appendf(nil, "@%dACK%.4E\\", id, dev.pressure)
	case 'T':
		return fmt.Appendf(nil, "@%dACK%.2f\\", id, dev.temperature)
	default:
		return fmt.Appendf(nil, "@%dNAK160\\", id)
	}
}
