package plcsim

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/internal/queue"
	"github.com/arloliu/go-ieb/logger"
)

// Point is one named variable of the simulated process image.
type Point struct {
	Name  string
	Kind  codec.Kind
	Unit  string
	Value codec.Value
}

type link struct {
	input string
	value bool
	delay time.Duration
}

// Server is a simulated PLC speaking the line protocol.
type Server struct {
	logger logger.Logger
	points *xsync.MapOf[string, Point]

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	faults   map[string]*queue.SliceQueue[*faultRule]
	links    map[string][]link
	requests []codec.Request
	closed   bool
	wg       sync.WaitGroup

	accepted   atomic.Uint64
	replyDelay atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPoints preloads the process image.
func WithPoints(points ...Point) Option {
	return func(s *Server) {
		for _, p := range points {
			s.points.Store(p.Name, p)
		}
	}
}

// WithIdentity adds an identity point called name answering id.
func WithIdentity(name, id string) Option {
	return func(s *Server) {
		s.points.Store(name, Point{Name: name, Kind: codec.KindIdentity, Value: codec.TextValue(id)})
	}
}

// NewServer creates a stopped simulator.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger: logger.GetLogger(),
		points: xsync.NewMapOf[string, Point](),
		conns:  make(map[net.Conn]struct{}),
		faults: make(map[string]*queue.SliceQueue[*faultRule]),
		links:  make(map[string][]link),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "plcsim")

	return s
}

// Start listens on addr, for example "127.0.0.1:0", and serves connections in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.closed = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Info("simulator listening", "addr", ln.Addr().String())

	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// StopListening refuses new connections while keeping established ones.
func (s *Server) StopListening() {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
}

// DropConnections closes every established connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops the server and waits for all connection handlers to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopListening()
	s.DropConnections()
	s.wg.Wait()

	return nil
}

// Set stores v into the named point, creating a digital input when the point is unknown.
func (s *Server) Set(name string, v codec.Value) {
	s.points.Compute(name, func(p Point, loaded bool) (Point, bool) {
		if !loaded {
			p = Point{Name: name, Kind: codec.KindDigitalIn}
		}
		p.Value = v
		return p, false
	})
}

// SetPoint adds or replaces a point.
func (s *Server) SetPoint(p Point) {
	s.points.Store(p.Name, p)
}

// Get returns the value of the named point.
func (s *Server) Get(name string) (codec.Value, bool) {
	p, ok := s.points.Load(name)
	return p.Value, ok
}

// Bool returns the value of a digital point, false when unknown.
func (s *Server) Bool(name string) bool {
	v, _ := s.Get(name)
	b, _ := v.Bool()

	return b
}

// Link makes a write of true to output set input to value after delay,
// provided output is still true at that time.
func (s *Server) Link(output, input string, value bool, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links[output] = append(s.links[output], link{input: input, value: value, delay: delay})
}

// InjectFault applies f to the next times requests for channel, or to all of
// them when times is zero or less. Use AnyChannel to match every channel.
//
// Faults injected for the same channel form a script: each one takes effect
// after the previous one is used up.
func (s *Server) InjectFault(channel string, f Fault, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if times <= 0 {
		times = -1
	}
	script, ok := s.faults[channel]
	if !ok {
		script = queue.NewSliceQueue[*faultRule](2)
		s.faults[channel] = script
	}
	script.Enqueue(&faultRule{fault: f, remaining: times})
}

// RemoveFault drops the first pending f from the script of channel, ending a
// fault injected forever. It reports whether one was found.
func (s *Server) RemoveFault(channel string, f Fault) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	script, ok := s.faults[channel]
	if !ok {
		return false
	}
	removed := script.Remove(func(r *faultRule) bool { return r.fault == f })
	if script.IsEmpty() {
		delete(s.faults, channel)
	}

	return removed
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.faults)
}

// SetReplyDelay delays every reply by d.
func (s *Server) SetReplyDelay(d time.Duration) {
	s.replyDelay.Store(int64(d))
}

// Requests returns a copy of every request decoded so far.
func (s *Server) Requests() []codec.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]codec.Request, len(s.requests))
	copy(out, s.requests)

	return out
}

// CountRequests returns the number of requests with the given operation for channel.
func (s *Server) CountRequests(op codec.Operation, channel string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Op == op && r.Channel == channel {
			n++
		}
	}
	return n
}

// ResetRequests forgets the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = s.requests[:0]
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.accepted.Add(1)

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		if b != '\r' && b != '\n' {
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}

		reply, drop := s.serve(buf)
		buf = buf[:0]
		if drop {
			return
		}
		if reply == nil {
			continue
		}
		if d := time.Duration(s.replyDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

// serve returns the reply for one request line. drop asks the caller to close the connection.
func (s *Server) serve(line []byte) (reply []byte, drop bool) {
	req, err := codec.DecodeRequest(line)
	if err != nil {
		s.logger.Debug("bad request", "line", string(line), "error", err)
		return codec.EncodeError("", "bad request"), false
	}
	s.record(req)

	fault := s.takeFault(req.Channel)
	switch fault {
	case FaultSilent:
		return nil, false
	case FaultDisconnect:
		return nil, true
	case FaultMalformed:
		return []byte("garbage " + req.Channel + "\r"), false
	case FaultError:
		return codec.EncodeError(req.Channel, "injected fault"), false
	case FaultWrongChannel:
		return codec.EncodeReply(req.Channel+"_other", codec.BoolValue(true), ""), false
	}

	p, ok := s.points.Load(req.Channel)
	if !ok {
		return codec.EncodeError(req.Channel, "unknown channel"), false
	}

	switch req.Op {
	case codec.OpRead:
		return codec.EncodeReply(p.Name, p.Value, p.Unit), false
	case codec.OpWriteDigital, codec.OpWriteAnalog:
		if !p.Kind.Writable() || (req.Op == codec.OpWriteDigital) != p.Kind.Digital() {
			return codec.EncodeError(p.Name, "not writable"), false
		}
		if fault != FaultIgnoreWrite {
			p.Value = req.Arg
			s.points.Store(p.Name, p)
			if b, ok := req.Arg.Bool(); ok && b {
				s.fireLinks(p.Name)
			}
		}
		return codec.EncodeReply(p.Name, p.Value, p.Unit), false
	}

	return codec.EncodeError(req.Channel, "unsupported"), false
}

func (s *Server) record(req codec.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
}

func (s *Server) takeFault(channel string) Fault {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{channel, AnyChannel} {
		script, ok := s.faults[key]
		if !ok {
			continue
		}
		rule, _ := script.Peek()
		if rule.remaining > 0 {
			rule.remaining--
			if rule.remaining == 0 {
				_, _ = script.Dequeue()
			}
		}
		if script.IsEmpty() {
			delete(s.faults, key)
		}
		return rule.fault
	}

	return FaultNone
}

func (s *Server) fireLinks(output string) {
	s.mu.Lock()
	byDelay := make(map[time.Duration][]link)
	for _, l := range s.links[output] {
		byDelay[l.delay] = append(byDelay[l.delay], l)
	}
	s.mu.Unlock()

	// links sharing a delay are applied together, in registration order
	for delay, links := range byDelay {
		time.AfterFunc(delay, func() {
			if !s.Bool(output) {
				return
			}
			for _, l := range links {
				s.Set(l.input, codec.BoolValue(l.value))
			}
		})
	}
}
