package sens4

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ieb/internal/queue"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

// Reading is the pressure and temperature of one transducer.
type Reading struct {
	Transducer  string    `json:"transducer" msgpack:"transducer"`
	Pressure    float64   `json:"pressure" msgpack:"pressure"`
	Temperature float64   `json:"temperature" msgpack:"temperature"`
	Error       string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Time        time.Time `json:"time" msgpack:"time"`

	Err error `json:"-" msgpack:"-"`
}

// Client queries the transducers behind one gateway. It is safe for concurrent use.
type Client struct {
	cfg    *Config
	logger logger.Logger
	tr     *transport.Transport
	lock   *queue.FIFOLock
}

// NewClient creates a client. The connection is opened on the first query.
func NewClient(cfg *Config) (*Client, error) {
	tcfg, err := cfg.transport()
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		logger: cfg.GetLogger().With("component", "sens4", "addr", tcfg.Addr()),
		tr:     transport.New(tcfg),
		lock:   queue.NewFIFOLock(),
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Close closes the connection. A later query reconnects.
func (c *Client) Close() error {
	if err := c.lock.Lock(context.Background()); err != nil {
		return err
	}
	defer c.lock.Unlock()

	return c.tr.Close()
}

// Read queries quantity q of the transducer called name.
func (c *Client) Read(ctx context.Context, name string, q Quantity) (float64, error) {
	t, ok := c.cfg.Transducer(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTransducer, name)
	}

	return c.query(ctx, t, q)
}

// ReadAll reads pressure and temperature of every transducer. A transducer
// that fails carries its error in the reading; ErrNoReading is returned only
// when every transducer failed.
func (c *Client) ReadAll(ctx context.Context) ([]Reading, error) {
	ts := c.cfg.Transducers()
	out := make([]Reading, 0, len(ts))
	var errs []error

	for _, t := range ts {
		r := Reading{Transducer: t.Name}
		p, err := c.query(ctx, t, Pressure)
		if err == nil {
			r.Pressure = p
			r.Temperature, err = c.query(ctx, t, Temperature)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("transducer read failed", "transducer", t.Name, "error", err)
			r.Err, r.Error = err, err.Error()
			errs = append(errs, err)
		}
		r.Time = time.Now()
		out = append(out, r)
	}

	if len(errs) == len(ts) {
		return out, fmt.Errorf("%w: %w", ErrNoReading, errors.Join(errs...))
	}

	return out, nil
}

func (c *Client) query(ctx context.Context, t Transducer, q Quantity) (float64, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer c.lock.Unlock()

	line, err := c.tr.Exchange(ctx, EncodeQuery(t.DeviceID, q))
	if err != nil {
		return 0, fmt.Errorf("sens4: %s %s: %w", t.Name, q, err)
	}
	v, err := ParseReply(t.DeviceID, line)
	if err != nil {
		return 0, fmt.Errorf("sens4: %s %s: %w", t.Name, q, err)
	}
	c.logger.Debug("transducer read", "transducer", t.Name, "quantity", q.String(), "value", v)

	return v, nil
}
