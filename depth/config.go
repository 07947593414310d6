package depth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

// DefaultTimeout bounds one channel read.
const DefaultTimeout = time.Second

// DefaultChannels returns the channels of the three gauges.
func DefaultChannels() []string { return []string{"A", "B", "C"} }

// Config holds the counter address and the channels to read.
type Config struct {
	host     string
	port     int
	timeout  time.Duration
	channels []string
	camera   string
	logger   logger.Logger
}

// NewConfig creates a configuration for the counter at host:port.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		host:     host,
		port:     port,
		timeout:  DefaultTimeout,
		channels: DefaultChannels(),
		logger:   logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

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
		transport.WithLogger(cfg.logger),
	)
}

// Channels returns the channels read by a measurement.
func (cfg *Config) Channels() []string { return append([]string(nil), cfg.channels...) }

// Camera returns the initial camera name.
func (cfg *Config) Camera() string { return cfg.camera }

// Timeout returns the per-channel timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithChannels sets the channels to read. Channel names must be unique and
// contain no white space.
func WithChannels(channels ...string) Option {
	return optFunc(func(cfg *Config) error {
		if len(channels) == 0 {
			return errors.New("depth: at least one channel is required")
		}
		seen := make(map[string]bool, len(channels))
		for _, ch := range channels {
			if ch == "" || strings.ContainsAny(ch, " \t\r\n") {
				return fmt.Errorf("depth: invalid channel %q", ch)
			}
			if seen[ch] {
				return fmt.Errorf("depth: duplicate channel %q", ch)
			}
			seen[ch] = true
		}
		cfg.channels = append([]string(nil), channels...)

		return nil
	})
}

// WithCamera sets the name of the camera mounted when the client starts.
func WithCamera(name string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.camera = name
		return nil
	})
}

// WithTimeout sets the per-channel timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("depth: timeout must be positive")
		}
		cfg.timeout = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("depth: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
