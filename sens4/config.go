package sens4

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

const (
	// DefaultDeviceID is the factory address of a SENS4 transducer.
	DefaultDeviceID = 254
	// DefaultTimeout bounds one query.
	DefaultTimeout = 3 * time.Second
)

// Transducer names one device on the line.
type Transducer struct {
	Name     string
	DeviceID int
}

// Config holds the gateway address and the transducers behind it.
type Config struct {
	host        string
	port        int
	timeout     time.Duration
	transducers []Transducer
	logger      logger.Logger
}

// NewConfig creates a configuration for the gateway at host:port.
// At least one transducer must be given through WithTransducers.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		host:    host,
		port:    port,
		timeout: DefaultTimeout,
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.transducers) == 0 {
		return nil, errors.New("sens4: no transducer configured")
	}

	// validates host and port
	if _, err := cfg.transport(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) transport() (*transport.Config, error) {
	return transport.NewConfig(cfg.host, cfg.port,
		transport.WithConnectTimeout(cfg.timeout),
		transport.WithReadTimeout(cfg.timeout),
		transport.WithWriteTimeout(cfg.timeout),
		transport.WithMaxLineLength(transport.MinMaxLineLength*4),
		transport.WithTerminators(string(Terminator)),
		transport.WithLogger(cfg.logger),
	)
}

// Transducers returns the configured transducers in declaration order.
func (cfg *Config) Transducers() []Transducer { return append([]Transducer(nil), cfg.transducers...) }

// Transducer returns the transducer called name.
func (cfg *Config) Transducer(name string) (Transducer, bool) {
	for _, t := range cfg.transducers {
		if t.Name == name {
			return t, true
		}
	}
	return Transducer{}, false
}

// Timeout returns the per-query timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTransducers sets the transducers sharing the line. Names and device ids must be unique.
func WithTransducers(ts ...Transducer) Option {
	return optFunc(func(cfg *Config) error {
		names := make(map[string]bool, len(ts))
		ids := make(map[int]bool, len(ts))
		for _, t := range ts {
			if t.Name == "" {
				return errors.New("sens4: transducer needs a name")
			}
			if t.DeviceID < 0 || t.DeviceID > 254 {
				return fmt.Errorf("sens4: %s device id %d out of range [0, 254]", t.Name, t.DeviceID)
			}
			if names[t.Name] || ids[t.DeviceID] {
				return fmt.Errorf("sens4: duplicate transducer %s (device %d)", t.Name, t.DeviceID)
			}
			names[t.Name], ids[t.DeviceID] = true, true
		}
		cfg.transducers = append([]Transducer(nil), ts...)

		return nil
	})
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("sens4: timeout must be positive")
		}
		cfg.timeout = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("sens4: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
