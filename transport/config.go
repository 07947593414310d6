package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-ieb/logger"
)

// Defaults applied by NewConfig.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 2 * time.Second
	DefaultWriteTimeout   = 2 * time.Second
	DefaultKeepAlive      = 30 * time.Second
	DefaultMaxLineLength  = 1024
	// DefaultTerminators end a reply line on CR or LF.
	DefaultTerminators = "\r\n"
)

// Bounds accepted by WithMaxLineLength.
const (
	MinMaxLineLength = 16
	MaxMaxLineLength = 64 * 1024
)

// Config holds the connection parameters of a Transport.
type Config struct {
	host string
	port int

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	keepAlive      time.Duration
	maxLineLength  int
	terminators    string

	logger logger.Logger
}

// NewConfig creates a transport configuration for the PLC at host:port.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		writeTimeout:   DefaultWriteTimeout,
		keepAlive:      DefaultKeepAlive,
		maxLineLength:  DefaultMaxLineLength,
		terminators:    DefaultTerminators,
		logger:         logger.GetLogger(),
	}

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("transport: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) setHost(host string) error {
	host = strings.Trim(strings.TrimSpace(host), ".")
	if host == "" {
		return errors.New("transport: host must not be empty")
	}
	if net.ParseIP(host) == nil && strings.ContainsAny(host, " /:@") {
		return fmt.Errorf("transport: invalid host %q", host)
	}
	cfg.host = host

	return nil
}

// Host returns the configured host address.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured TCP port.
func (cfg *Config) Port() int { return cfg.port }

// Addr returns "host:port".
func (cfg *Config) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// ConnectTimeout returns the TCP dial timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// ReadTimeout returns the default reply deadline used by Receive.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the deadline for writing one frame.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// MaxLineLength returns the longest accepted reply line, terminator excluded.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// Terminators returns the bytes that end a reply line.
func (cfg *Config) Terminators() string { return cfg.terminators }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithConnectTimeout sets the TCP dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transport: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithReadTimeout sets the default reply deadline.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transport: read timeout must be positive")
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the deadline for writing one frame.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transport: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. A negative value disables keep-alive.
func WithKeepAlive(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.keepAlive = d
		return nil
	})
}

// WithMaxLineLength bounds the length of a reply line.
func WithMaxLineLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinMaxLineLength || n > MaxMaxLineLength {
			return fmt.Errorf("transport: max line length %d out of range [%d, %d]", n, MinMaxLineLength, MaxMaxLineLength)
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithTerminators sets the bytes that end a reply line, for devices that do not use CR or LF.
func WithTerminators(terminators string) Option {
	return optFunc(func(cfg *Config) error {
		if terminators == "" {
			return errors.New("transport: terminators must not be empty")
		}
		cfg.terminators = terminators

		return nil
	})
}

// WithLogger sets the logger for the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
