package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arloliu/go-ieb/logger"
)

const shutdownTimeout = 5 * time.Second

// Server serves the router returned by NewRouter.
type Server struct {
	addr    string
	handler http.Handler
	logger  logger.Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// NewServer creates an HTTP server listening on addr once started.
func NewServer(addr string, handler http.Handler, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Server{addr: addr, handler: handler, logger: l}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.running
}

// Start binds the listen address and serves requests in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.running = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "addr", ln.Addr().String(), "error", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	s.listener = nil

	return err
}

// Address returns the base URL of the running server, or an empty string.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return ""
	}

	return "http://" + s.listener.Addr().String()
}
