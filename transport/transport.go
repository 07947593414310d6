package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arloliu/go-ieb/logger"
)

// link is one established socket and its read buffer.
type link struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Transport is the single TCP connection to the PLC.
//
// Send and Receive are expected to be called by one goroutine at a time;
// Close may be called concurrently and interrupts a blocked Receive.
type Transport struct {
	cfg      *Config
	logger   logger.Logger
	stateMgr *ConnStateMgr
	metrics  Metrics

	mu   sync.Mutex
	link *link
}

// New creates a disconnected transport.
func New(cfg *Config, handlers ...ConnStateChangeHandler) *Transport {
	l := cfg.GetLogger().With("plc", cfg.Addr())
	return &Transport{
		cfg:      cfg,
		logger:   l,
		stateMgr: NewConnStateMgr(l, handlers...),
	}
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// State returns the current connection state.
func (t *Transport) State() ConnState { return t.stateMgr.State() }

// StateMgr returns the connection state manager.
func (t *Transport) StateMgr() *ConnStateMgr { return t.stateMgr }

// Metrics returns the transport counters.
func (t *Transport) Metrics() *Metrics { return &t.metrics }

// AddStateHandler registers a connection state change handler.
func (t *Transport) AddStateHandler(h ConnStateChangeHandler) { t.stateMgr.AddHandler(h) }

// Connect dials the PLC. It is a no-op when already connected.
// A Faulted transport is reset before dialing again.
func (t *Transport) Connect(ctx context.Context) error {
	if t.State() == Connected {
		return nil
	}
	if t.State() == Faulted {
		t.closeLink()
		t.stateMgr.ToDisconnected()
	}

	dialer := &net.Dialer{KeepAlive: t.cfg.keepAlive}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", t.cfg.Addr())
	if err != nil {
		t.metrics.incConnectErrCount()
		t.logger.Debug("dial failed", "error", err)
		_ = t.stateMgr.ToFaulted()

		return fmt.Errorf("%w: dial %s: %w", ErrConnection, t.cfg.Addr(), err)
	}

	t.mu.Lock()
	t.link = &link{conn: conn, reader: bufio.NewReaderSize(conn, t.cfg.maxLineLength+len("\r\n"))}
	t.mu.Unlock()

	if err := t.stateMgr.ToConnected(); err != nil {
		t.closeLink()
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	t.metrics.incConnectCount()
	t.logger.Debug("connected", "localAddr", conn.LocalAddr(), "remoteAddr", conn.RemoteAddr())

	return nil
}

// Send writes one complete frame.
func (t *Transport) Send(frame []byte) error {
	lk := t.currentLink()
	if lk == nil || t.State() != Connected {
		return fmt.Errorf("%w: not connected", ErrIO)
	}

	if err := lk.conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout)); err != nil {
		t.fault(lk, err)
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := writeAll(lk.conn, frame); err != nil {
		t.metrics.incIOErrCount()
		t.fault(lk, err)

		return fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	t.metrics.incSendCount()
	t.logger.Debug("frame sent", "frame", printable(frame))

	return nil
}

// Receive blocks for one reply line, terminated by CR or LF unless configured
// otherwise with WithTerminators, and returns it
// without the terminator. Empty lines are skipped. A timeout of zero or less
// uses the configured read timeout.
func (t *Transport) Receive(timeout time.Duration) ([]byte, error) {
	lk := t.currentLink()
	if lk == nil || t.State() != Connected {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}
	if timeout <= 0 {
		timeout = t.cfg.readTimeout
	}

	if err := lk.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.fault(lk, err)
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	line, err := t.readLine(lk)
	if err != nil {
		t.fault(lk, err)
		switch {
		case isTimeout(err):
			t.metrics.incTimeoutCount()
			return nil, fmt.Errorf("%w: no reply within %v", ErrTimeout, timeout)
		case errors.Is(err, ErrLineTooLong):
			t.metrics.incIOErrCount()
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		case isPeerClosed(err):
			t.metrics.incIOErrCount()
			return nil, fmt.Errorf("%w: closed by peer: %w", ErrConnection, err)
		default:
			t.metrics.incIOErrCount()
			return nil, fmt.Errorf("%w: read: %w", ErrConnection, err)
		}
	}
	t.metrics.incRecvCount()
	t.logger.Debug("line received", "line", printable(line))

	return line, nil
}

// Exchange sends frame and returns one reply line, connecting first when
// needed. A failed exchange is retried once on a fresh connection. It must not
// be called concurrently.
func (t *Transport) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	line, err := t.exchangeOnce(ctx, frame)
	if err == nil {
		return line, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w (retry cancelled: %w)", err, ctxErr)
	}

	t.logger.Debug("exchange failed, reconnecting", "error", err)
	if line, err = t.exchangeOnce(ctx, frame); err != nil {
		return nil, fmt.Errorf("%w: after reconnect: %w", ErrConnection, err)
	}

	return line, nil
}

func (t *Transport) exchangeOnce(ctx context.Context, frame []byte) ([]byte, error) {
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	if err := t.Send(frame); err != nil {
		return nil, err
	}

	return t.Receive(0)
}

// Close releases the socket and moves to Disconnected. It is idempotent.
func (t *Transport) Close() error {
	t.closeLink()
	t.stateMgr.ToDisconnected()

	return nil
}

// Fault forces the transport into the Faulted state and releases the socket.
func (t *Transport) Fault(reason error) {
	if lk := t.currentLink(); lk != nil {
		t.fault(lk, reason)
		return
	}
	if err := t.stateMgr.ToFaulted(); err == nil {
		t.logger.Warn("connection faulted", "error", reason)
	}
}

func (t *Transport) readLine(lk *link) ([]byte, error) {
	buf := make([]byte, 0, 64)
	for {
		b, err := lk.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if strings.IndexByte(t.cfg.terminators, b) >= 0 {
			if len(buf) == 0 {
				continue
			}
			return buf, nil
		}
		if len(buf) >= t.cfg.maxLineLength {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, t.cfg.maxLineLength)
		}
		buf = append(buf, b)
	}
}

func (t *Transport) currentLink() *link {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.link
}

// fault moves to Faulted if lk is still the active link. A link replaced or
// closed in the meantime is ignored.
func (t *Transport) fault(lk *link, reason error) {
	t.mu.Lock()
	if t.link != lk {
		t.mu.Unlock()
		return
	}
	t.link = nil
	t.mu.Unlock()

	closeConn(lk.conn, t.logger)
	if err := t.stateMgr.ToFaulted(); err == nil {
		t.logger.Warn("connection faulted", "error", reason)
	}
}

func (t *Transport) closeLink() {
	t.mu.Lock()
	lk := t.link
	t.link = nil
	t.mu.Unlock()

	if lk != nil {
		closeConn(lk.conn, t.logger)
	}
}

func closeConn(conn net.Conn, l logger.Logger) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.Error("failed to close TCP connection", "error", err)
	}
}

func writeAll(w io.Writer, data []byte) error {
	for written := 0; written < len(data); {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			return err
		}
	}

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}

// printable escapes control bytes for logging.
func printable(b []byte) string {
	return fmt.Sprintf("%q", b)
}
