package ieb

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/transport"
)

// Defaults applied by NewConfig.
const (
	// DefaultIdentityChannel is the channel answering the PLC signature.
	DefaultIdentityChannel = "ID"
	// DefaultPollInterval is the limit switch polling period during an actuation.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultActuationTimeout bounds one door or shutter motion.
	DefaultActuationTimeout = 10 * time.Second
)

// Bounds accepted by WithPollInterval and WithActuationTimeout.
const (
	MinPollInterval     = 5 * time.Millisecond
	MaxActuationTimeout = 5 * time.Minute
)

// Config holds everything a Controller needs: the PLC address, the channel
// table, the device groups and the actuation timing.
type Config struct {
	transportOpts []transport.Option
	transport     *transport.Config

	channels map[string]Channel
	order    []string
	groups   map[string]DeviceGroup

	identityChannel string
	signature       string

	pollInterval     time.Duration
	actuationTimeout time.Duration

	logger logger.Logger
}

// NewConfig creates a controller configuration for the PLC at host:port.
//
// The channel table and device groups are validated once all options are applied.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		channels:         make(map[string]Channel),
		groups:           make(map[string]DeviceGroup),
		identityChannel:  DefaultIdentityChannel,
		pollInterval:     DefaultPollInterval,
		actuationTimeout: DefaultActuationTimeout,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	tcfg, err := transport.NewConfig(host, port, append(cfg.transportOpts, transport.WithLogger(cfg.logger))...)
	if err != nil {
		return nil, err
	}
	cfg.transport = tcfg

	if _, ok := cfg.channels[cfg.identityChannel]; !ok {
		if err := cfg.addChannel(Channel{Name: cfg.identityChannel, Kind: codec.KindIdentity}); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) addChannel(ch Channel) error {
	if !codec.ValidName(ch.Name) {
		return fmt.Errorf("ieb: invalid channel name %q", ch.Name)
	}
	if _, dup := cfg.channels[ch.Name]; dup {
		return fmt.Errorf("ieb: duplicate channel %q", ch.Name)
	}
	if ch.Kind == codec.KindUnknown {
		return fmt.Errorf("ieb: channel %q has no kind", ch.Name)
	}
	if ch.Inverted && !ch.Kind.Digital() {
		return fmt.Errorf("ieb: channel %q: only digital channels can be inverted", ch.Name)
	}
	if !ch.Safe.IsNone() {
		if err := checkValueKind(ch, ch.Safe); err != nil {
			return fmt.Errorf("ieb: channel %q safe value: %w", ch.Name, err)
		}
	}
	cfg.channels[ch.Name] = ch
	cfg.order = append(cfg.order, ch.Name)

	return nil
}

func checkValueKind(ch Channel, v codec.Value) error {
	switch ch.Kind {
	case codec.KindDigitalOut:
		if v.Type() != codec.TypeBool {
			return errors.New("digital output needs a boolean")
		}
	case codec.KindAnalogOut:
		f, ok := v.Float()
		if !ok {
			return errors.New("analog output needs a number")
		}
		if ch.Range != nil && !ch.Range.Contains(f) {
			return fmt.Errorf("%v outside [%v, %v]", f, ch.Range.Min, ch.Range.Max)
		}
	default:
		return fmt.Errorf("%s channels are not writable", ch.Kind)
	}

	return nil
}

func (cfg *Config) validate() error {
	if ch := cfg.channels[cfg.identityChannel]; ch.Kind != codec.KindIdentity {
		return fmt.Errorf("ieb: identity channel %q must be of kind %s", ch.Name, codec.KindIdentity)
	}
	if cfg.pollInterval >= cfg.actuationTimeout {
		return fmt.Errorf("ieb: poll interval %v must be shorter than actuation timeout %v", cfg.pollInterval, cfg.actuationTimeout)
	}

	for _, g := range cfg.groups {
		if err := cfg.requireKind(g.Name, g.Power, codec.KindDigitalOut); err != nil {
			return err
		}
		if err := cfg.requireKind(g.Name, g.OpenSensor, codec.KindDigitalIn); err != nil {
			return err
		}
		if err := cfg.requireKind(g.Name, g.ClosedSensor, codec.KindDigitalIn); err != nil {
			return err
		}
		for verb, act := range g.actuations() {
			if act == nil {
				continue
			}
			if act.Output == "" || act.Confirm == "" {
				return fmt.Errorf("ieb: group %q %s actuation needs an output and a confirm channel", g.Name, verb)
			}
			if err := cfg.requireKind(g.Name, act.Output, codec.KindDigitalOut); err != nil {
				return err
			}
			if err := cfg.requireKind(g.Name, act.Confirm, codec.KindDigitalIn); err != nil {
				return err
			}
		}
	}

	return nil
}

// requireKind checks that name, when set, refers to a channel of the given kind.
func (cfg *Config) requireKind(group, name string, kind codec.Kind) error {
	if name == "" {
		return nil
	}
	ch, ok := cfg.channels[name]
	if !ok {
		return fmt.Errorf("ieb: group %q references %w %q", group, ErrUnknownChannel, name)
	}
	if ch.Kind != kind {
		return fmt.Errorf("ieb: group %q: channel %q is %s, expected %s", group, name, ch.Kind, kind)
	}

	return nil
}

// Transport returns the transport configuration.
func (cfg *Config) Transport() *transport.Config { return cfg.transport }

// Channel returns the channel called name.
func (cfg *Config) Channel(name string) (Channel, bool) {
	ch, ok := cfg.channels[name]
	return ch, ok
}

// Channels returns all channels in declaration order.
func (cfg *Config) Channels() []Channel {
	out := make([]Channel, 0, len(cfg.order))
	for _, name := range cfg.order {
		out = append(out, cfg.channels[name])
	}
	return out
}

// ChannelsOfKind returns the channels of the given kinds in declaration order.
func (cfg *Config) ChannelsOfKind(kinds ...codec.Kind) []Channel {
	var out []Channel
	for _, name := range cfg.order {
		if ch := cfg.channels[name]; slices.Contains(kinds, ch.Kind) {
			out = append(out, ch)
		}
	}
	return out
}

// Group returns the device group called name.
func (cfg *Config) Group(name string) (DeviceGroup, bool) {
	g, ok := cfg.groups[name]
	return g, ok
}

// GroupNames returns the names of all device groups, sorted.
func (cfg *Config) GroupNames() []string {
	names := make([]string, 0, len(cfg.groups))
	for name := range cfg.groups {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// IdentityChannel returns the name of the channel checked by Initialize.
func (cfg *Config) IdentityChannel() string { return cfg.identityChannel }

// Signature returns the expected identity prefix.
func (cfg *Config) Signature() string { return cfg.signature }

// PollInterval returns the interval between confirm reads during an actuation.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// ActuationTimeout returns the overall bound of an actuation.
func (cfg *Config) ActuationTimeout() time.Duration { return cfg.actuationTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithChannels adds channels to the channel table.
func WithChannels(channels ...Channel) Option {
	return optFunc(func(cfg *Config) error {
		for _, ch := range channels {
			if err := cfg.addChannel(ch); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithGroups adds device groups. Channel references are checked by NewConfig.
func WithGroups(groups ...DeviceGroup) Option {
	return optFunc(func(cfg *Config) error {
		for _, g := range groups {
			if g.Name == "" {
				return errors.New("ieb: device group needs a name")
			}
			if _, dup := cfg.groups[g.Name]; dup {
				return fmt.Errorf("ieb: duplicate device group %q", g.Name)
			}
			cfg.groups[g.Name] = g
		}
		return nil
	})
}

// WithIdentity sets the identity channel and the signature its value must start with.
// An empty signature accepts any identity.
func WithIdentity(channel, signature string) Option {
	return optFunc(func(cfg *Config) error {
		if !codec.ValidName(channel) {
			return fmt.Errorf("ieb: invalid identity channel %q", channel)
		}
		cfg.identityChannel = channel
		cfg.signature = signature

		return nil
	})
}

// WithPollInterval sets the interval between confirm reads during an actuation.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval {
			return fmt.Errorf("ieb: poll interval %v below minimum %v", d, MinPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithActuationTimeout sets the overall bound of an actuation.
func WithActuationTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxActuationTimeout {
			return fmt.Errorf("ieb: actuation timeout %v out of range (0, %v]", d, MaxActuationTimeout)
		}
		cfg.actuationTimeout = d

		return nil
	})
}

// WithConnectTimeout sets the TCP dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, transport.WithConnectTimeout(d))
		return nil
	})
}

// WithReadTimeout sets the reply deadline of every exchange.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, transport.WithReadTimeout(d))
		return nil
	})
}

// WithWriteTimeout sets the deadline for writing a request.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, transport.WithWriteTimeout(d))
		return nil
	})
}

// WithMaxLineLength bounds the length of a reply line.
func WithMaxLineLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, transport.WithMaxLineLength(n))
		return nil
	})
}

// WithLogger sets the logger for the controller and its transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("ieb: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
