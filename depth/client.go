package depth

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-ieb/internal/queue"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

var replyRe = regexp.MustCompile(`^(\S+) ([+\-0-9.]+) mm$`)

// Measurement is one reading of every gauge, in millimetres, tagged with the
// camera mounted at the time.
type Measurement struct {
	Camera string             `json:"camera" msgpack:"camera"`
	Depths map[string]float64 `json:"depths" msgpack:"depths"`
	Time   time.Time          `json:"time" msgpack:"time"`
}

// Client reads the depth gauges. It is safe for concurrent use.
type Client struct {
	cfg    *Config
	logger logger.Logger
	tr     *transport.Transport
	lock   *queue.FIFOLock
	camera atomic.Pointer[string]
}

// NewClient creates a client. The connection is opened on the first read.
func NewClient(cfg *Config) (*Client, error) {
	tcfg, err := cfg.transport()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.GetLogger().With("component", "depth", "addr", tcfg.Addr()),
		tr:     transport.New(tcfg),
		lock:   queue.NewFIFOLock(),
	}
	c.SetCamera(cfg.Camera())

	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Camera returns the name of the mounted camera.
func (c *Client) Camera() string { return *c.camera.Load() }

// SetCamera records which camera is mounted. Later measurements carry the new name.
func (c *Client) SetCamera(name string) {
	c.camera.Store(&name)
	c.logger.Info("camera set", "camera", name)
}

// Close closes the connection. A later read reconnects.
func (c *Client) Close() error {
	if err := c.lock.Lock(context.Background()); err != nil {
		return err
	}
	defer c.lock.Unlock()

	return c.tr.Close()
}

// Read reads every configured channel. Any failing channel fails the whole measurement.
func (c *Client) Read(ctx context.Context) (Measurement, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return Measurement{}, err
	}
	defer c.lock.Unlock()

	m := Measurement{
		Camera: c.Camera(),
		Depths: make(map[string]float64, len(c.cfg.channels)),
	}
	for _, ch := range c.cfg.channels {
		v, err := c.readChannel(ctx, ch)
		if err != nil {
			c.logger.Warn("depth read failed", "channel", ch, "error", err)
			return Measurement{}, fmt.Errorf("depth: channel %s: %w", ch, err)
		}
		m.Depths[ch] = v
	}
	m.Time = time.Now()
	c.logger.Debug("depth measured", "camera", m.Camera, "depths", m.Depths)

	return m, nil
}

func (c *Client) readChannel(ctx context.Context, ch string) (float64, error) {
	line, err := c.tr.Exchange(ctx, []byte("SEND "+ch+"\n"))
	if err != nil {
		return 0, err
	}

	return ParseReply(ch, line)
}

// ParseReply parses the reply line for channel ch, without its terminator.
func ParseReply(ch string, line []byte) (float64, error) {
	m := replyRe.FindSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("%w: unexpected reply %q", ErrProtocol, line)
	}
	if string(m[1]) != ch {
		return 0, fmt.Errorf("%w: reply for channel %s, expected %s", ErrProtocol, m[1], ch)
	}
	v, err := strconv.ParseFloat(string(m[2]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q: %w", ErrProtocol, m[2], err)
	}

	return v, nil
}
