package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-ieb/logger"
)

// Defaults applied by NewConfig.
const (
	// DefaultRootTopic prefixes every subtopic.
	DefaultRootTopic = "ieb"
	// DefaultInterval is the polling period of Run.
	DefaultInterval       = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	// MinInterval is the shortest interval accepted by WithInterval.
	MinInterval = 100 * time.Millisecond
)

// Format is the payload encoding of published messages.
type Format uint8

// Payload formats.
const (
	// FormatJSON encodes payloads as JSON.
	FormatJSON Format = iota
	// FormatMsgpack encodes payloads as MessagePack.
	FormatMsgpack
)

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// ParseFormat parses "json" or "msgpack".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "msgpack", "messagepack":
		return FormatMsgpack, nil
	}
	return FormatJSON, fmt.Errorf("telemetry: unknown format %q", s)
}

// Config holds the broker connection and publishing settings.
type Config struct {
	broker         string
	clientID       string
	username       string
	password       string
	rootTopic      string
	qos            byte
	retain         bool
	format         Format
	interval       time.Duration
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         logger.Logger
}

// NewConfig creates a configuration for the broker URL, for example "tcp://localhost:1883".
func NewConfig(broker string, opts ...Option) (*Config, error) {
	if broker == "" {
		return nil, errors.New("telemetry: broker must not be empty")
	}
	cfg := &Config{
		broker:         broker,
		clientID:       "iebd",
		rootTopic:      DefaultRootTopic,
		qos:            1,
		retain:         true,
		interval:       DefaultInterval,
		connectTimeout: DefaultConnectTimeout,
		publishTimeout: DefaultPublishTimeout,
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Broker returns the broker URL.
func (cfg *Config) Broker() string { return cfg.broker }

// RootTopic returns the topic prefix.
func (cfg *Config) RootTopic() string { return cfg.rootTopic }

// Format returns the payload encoding.
func (cfg *Config) Format() Format { return cfg.format }

// Interval returns the period of Run.
func (cfg *Config) Interval() time.Duration { return cfg.interval }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithClientID sets the MQTT client identifier.
func WithClientID(id string) Option {
	return optFunc(func(cfg *Config) error {
		if id == "" {
			return errors.New("telemetry: client id must not be empty")
		}
		cfg.clientID = id

		return nil
	})
}

// WithCredentials sets the broker user name and password.
func WithCredentials(username, password string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.username, cfg.password = username, password
		return nil
	})
}

// WithRootTopic sets the prefix of every topic.
func WithRootTopic(topic string) Option {
	return optFunc(func(cfg *Config) error {
		topic = strings.Trim(topic, "/")
		if topic == "" || strings.ContainsAny(topic, "+#") {
			return fmt.Errorf("telemetry: invalid root topic %q", topic)
		}
		cfg.rootTopic = topic

		return nil
	})
}

// WithQoS sets the quality of service of published messages.
func WithQoS(qos byte) Option {
	return optFunc(func(cfg *Config) error {
		if qos > 2 {
			return fmt.Errorf("telemetry: qos %d out of range", qos)
		}
		cfg.qos = qos

		return nil
	})
}

// WithRetain sets the retain flag of published messages.
func WithRetain(retain bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.retain = retain
		return nil
	})
}

// WithFormat sets the payload encoding.
func WithFormat(f Format) Option {
	return optFunc(func(cfg *Config) error {
		cfg.format = f
		return nil
	})
}

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinInterval {
			return fmt.Errorf("telemetry: interval %v below minimum %v", d, MinInterval)
		}
		cfg.interval = d

		return nil
	})
}

// WithConnectTimeout bounds the initial broker connection.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("telemetry: connect timeout %v must be positive", d)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("telemetry: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
