package wago

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arloliu/go-ieb/logger"
)

// Defaults applied by NewConfig.
const (
	// DefaultPort is the Modbus TCP port.
	DefaultPort    = 502
	DefaultSlaveID = 1
	// DefaultTimeout bounds one Modbus transaction.
	DefaultTimeout = 2 * time.Second
	// DefaultSettle is the wait between a relay write and its read back.
	DefaultSettle = 100 * time.Millisecond
	// DefaultImageRegister is the first register of the coil output image.
	DefaultImageRegister = 512
)

// Config describes the coupler address and its register layout.
type Config struct {
	host          string
	port          int
	slaveID       byte
	timeout       time.Duration
	settle        time.Duration
	imageRegister uint16
	sensors       []Sensor
	relays        map[string]Relay
	relayOrder    []string
	logger        logger.Logger
}

// NewConfig creates a configuration for the coupler at host with the default IEB layout.
func NewConfig(host string, opts ...Option) (*Config, error) {
	if host == "" {
		return nil, errors.New("wago: host must not be empty")
	}
	cfg := &Config{
		host:          host,
		port:          DefaultPort,
		slaveID:       DefaultSlaveID,
		timeout:       DefaultTimeout,
		settle:        DefaultSettle,
		imageRegister: DefaultImageRegister,
		sensors:       DefaultSensors(),
		logger:        logger.GetLogger(),
	}
	if err := cfg.setRelays(DefaultRelays()); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) setRelays(relays []Relay) error {
	m := make(map[string]Relay, len(relays))
	order := make([]string, 0, len(relays))
	for _, r := range relays {
		if r.Name == "" {
			return errors.New("wago: relay needs a name")
		}
		if _, dup := m[r.Name]; dup {
			return fmt.Errorf("wago: duplicate relay %q", r.Name)
		}
		// the output image register holds 16 outputs
		if r.Coil > 15 {
			return fmt.Errorf("wago: relay %q coil %d out of range 0-15", r.Name, r.Coil)
		}
		m[r.Name] = r
		order = append(order, r.Name)
	}
	cfg.relays, cfg.relayOrder = m, order

	return nil
}

// Addr returns the coupler address as host:port.
func (cfg *Config) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// SlaveID returns the Modbus unit identifier.
func (cfg *Config) SlaveID() byte { return cfg.slaveID }

// Timeout returns the Modbus request timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// Sensors returns the sensor layout.
func (cfg *Config) Sensors() []Sensor { return append([]Sensor(nil), cfg.sensors...) }

// Relays returns the relay layout in declaration order.
func (cfg *Config) Relays() []Relay {
	out := make([]Relay, 0, len(cfg.relayOrder))
	for _, name := range cfg.relayOrder {
		out = append(out, cfg.relays[name])
	}
	return out
}

// Relay returns the relay called name.
func (cfg *Config) Relay(name string) (Relay, bool) {
	r, ok := cfg.relays[name]
	return r, ok
}

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithPort sets the Modbus TCP port.
func WithPort(port int) Option {
	return optFunc(func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("wago: port %d out of range", port)
		}
		cfg.port = port

		return nil
	})
}

// WithSlaveID sets the Modbus unit identifier.
func WithSlaveID(id byte) Option {
	return optFunc(func(cfg *Config) error {
		cfg.slaveID = id
		return nil
	})
}

// WithTimeout sets the Modbus request timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("wago: timeout %v must be positive", d)
		}
		cfg.timeout = d

		return nil
	})
}

// WithSettle sets the delay between a relay write and its read-back.
func WithSettle(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("wago: settle delay %v must not be negative", d)
		}
		cfg.settle = d

		return nil
	})
}

// WithImageRegister sets the holding register that mirrors the digital outputs.
func WithImageRegister(reg uint16) Option {
	return optFunc(func(cfg *Config) error {
		cfg.imageRegister = reg
		return nil
	})
}

// WithSensors replaces the sensor layout.
func WithSensors(sensors ...Sensor) Option {
	return optFunc(func(cfg *Config) error {
		seen := make(map[string]struct{}, len(sensors))
		for _, s := range sensors {
			if s.Name == "" || s.Kind == SensorUnknown {
				return fmt.Errorf("wago: sensor %q needs a name and a kind", s.Name)
			}
			if _, dup := seen[s.Name]; dup {
				return fmt.Errorf("wago: duplicate sensor %q", s.Name)
			}
			seen[s.Name] = struct{}{}
		}
		cfg.sensors = append([]Sensor(nil), sensors...)

		return nil
	})
}

// WithRelays replaces the relay layout.
func WithRelays(relays ...Relay) Option {
	return optFunc(func(cfg *Config) error {
		return cfg.setRelays(relays)
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("wago: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
