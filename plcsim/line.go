package plcsim

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/arloliu/go-ieb/logger"
)

// lineServer accepts TCP connections and answers each terminated request line
// with the reply of handle. A nil reply sends nothing.
type lineServer struct {
	logger      logger.Logger
	terminators string
	handle      func(line []byte) []byte

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func newLineServer(l logger.Logger, terminators string, handle func([]byte) []byte) *lineServer {
	return &lineServer{
		logger:      l,
		terminators: terminators,
		handle:      handle,
		conns:       make(map[net.Conn]struct{}),
	}
}

func (s *lineServer) start(addr string) error {
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

func (s *lineServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *lineServer) port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *lineServer) close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()

	return nil
}

func (s *lineServer) acceptLoop(ln net.Listener) {
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

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *lineServer) serveConn(conn net.Conn) {
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
		if strings.IndexByte(s.terminators, b) < 0 {
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}

		reply := s.handle(buf)
		buf = buf[:0]
		if reply == nil {
			continue
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}
