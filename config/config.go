// Package config loads the iebd configuration file.
//
// The file is YAML. Durations are written as Go duration strings ("250ms",
// "10s"). Load applies the file on top of DefaultConfig, validates it and the
// section converters turn it into the option sets of the ieb, wago, sens4,
// depth and telemetry packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/ieb"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/telemetry"
	"github.com/arloliu/go-ieb/transport"
	"github.com/arloliu/go-ieb/wago"
)

// ErrInvalid indicates a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the complete iebd configuration.
type Config struct {
	PLC       PLCConfig       `yaml:"plc"`
	Identity  IdentityConfig  `yaml:"identity"`
	Actuation ActuationConfig `yaml:"actuation"`
	Channels  []ChannelConfig `yaml:"channels"`
	Groups    []GroupConfig   `yaml:"groups"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	WAGO      WAGOConfig      `yaml:"wago"`
	Pressure  PressureConfig  `yaml:"pressure"`
	Depth     DepthConfig     `yaml:"depth"`
}

// PLCConfig holds the address and timing of the line protocol connection.
type PLCConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
}

// IdentityConfig selects the identity channel checked by Initialize.
type IdentityConfig struct {
	Channel   string `yaml:"channel"`
	Signature string `yaml:"signature"`
}

// ActuationConfig holds the motor polling parameters.
type ActuationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ChannelConfig declares one PLC channel.
type ChannelConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Unit     string `yaml:"unit,omitempty"`
	Inverted bool   `yaml:"inverted,omitempty"`
	// Safe is a bool for digital outputs and a number for analog outputs.
	Safe  any          `yaml:"safe,omitempty"`
	Range *codec.Range `yaml:"range,omitempty"`
}

// GroupConfig declares one device group.
type GroupConfig struct {
	Name         string        `yaml:"name"`
	Power        string        `yaml:"power,omitempty"`
	OpenSensor   string        `yaml:"open_sensor,omitempty"`
	ClosedSensor string        `yaml:"closed_sensor,omitempty"`
	Open         *MotionConfig `yaml:"open,omitempty"`
	Close        *MotionConfig `yaml:"close,omitempty"`
	Home         *MotionConfig `yaml:"home,omitempty"`
}

// MotionConfig declares one actuation of a device group.
type MotionConfig struct {
	Output  string `yaml:"output"`
	Confirm string `yaml:"confirm"`
	Value   bool   `yaml:"value"`
}

// LogConfig selects the log level and record format.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// HTTPConfig controls the HTTP API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TelemetryConfig controls MQTT publication.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RootTopic      string        `yaml:"root_topic"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	Format         string        `yaml:"format"`
	Interval       time.Duration `yaml:"interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// WAGOConfig controls the Modbus bridge to the WAGO coupler.
type WAGOConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Host          string         `yaml:"host"`
	Port          int            `yaml:"port"`
	SlaveID       byte           `yaml:"slave_id"`
	Timeout       time.Duration  `yaml:"timeout"`
	Settle        time.Duration  `yaml:"settle"`
	ImageRegister uint16         `yaml:"image_register"`
	Sensors       []SensorConfig `yaml:"sensors,omitempty"`
	Relays        []RelayConfig  `yaml:"relays,omitempty"`
}

// SensorConfig maps a sensor onto a holding register.
type SensorConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Register uint16 `yaml:"register"`
}

// RelayConfig maps a relay onto a coil.
type RelayConfig struct {
	Name     string `yaml:"name"`
	Coil     uint16 `yaml:"coil"`
	Inverted bool   `yaml:"inverted,omitempty"`
}

// PressureConfig controls the SENS4 pressure transducer gateway.
type PressureConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Host        string             `yaml:"host"`
	Port        int                `yaml:"port"`
	Timeout     time.Duration      `yaml:"timeout"`
	Transducers []TransducerConfig `yaml:"transducers,omitempty"`
}

// TransducerConfig names one SENS4 transducer.
type TransducerConfig struct {
	Name     string `yaml:"name"`
	DeviceID int    `yaml:"device_id"`
}

// DepthConfig controls the depth gauge counter.
type DepthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Timeout  time.Duration `yaml:"timeout"`
	Channels []string      `yaml:"channels,omitempty"`
	Camera   string        `yaml:"camera,omitempty"`
}

// DefaultConfig returns a configuration with every optional setting at its default.
func DefaultConfig() *Config {
	return &Config{
		PLC: PLCConfig{
			ConnectTimeout: transport.DefaultConnectTimeout,
			ReadTimeout:    transport.DefaultReadTimeout,
			WriteTimeout:   transport.DefaultWriteTimeout,
			MaxLineLength:  transport.DefaultMaxLineLength,
		},
		Identity: IdentityConfig{Channel: ieb.DefaultIdentityChannel},
		Actuation: ActuationConfig{
			PollInterval: ieb.DefaultPollInterval,
			Timeout:      ieb.DefaultActuationTimeout,
		},
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Enabled: true, Listen: "127.0.0.1:8080"},
		Telemetry: TelemetryConfig{
			RootTopic:      telemetry.DefaultRootTopic,
			QoS:            1,
			Retain:         true,
			Format:         "json",
			Interval:       telemetry.DefaultInterval,
			ConnectTimeout: telemetry.DefaultConnectTimeout,
		},
		WAGO: WAGOConfig{
			Port:          wago.DefaultPort,
			SlaveID:       wago.DefaultSlaveID,
			Timeout:       wago.DefaultTimeout,
			Settle:        wago.DefaultSettle,
			ImageRegister: wago.DefaultImageRegister,
		},
		Pressure: PressureConfig{Timeout: sens4.DefaultTimeout},
		Depth:    DepthConfig{Timeout: depth.DefaultTimeout},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a configuration document from r. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the sections that are not validated by the packages they configure.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.PLC.Host == "" {
		invalid("plc.host is required")
	}
	if c.PLC.Port < 1 || c.PLC.Port > 65535 {
		invalid("plc.port %d out of range", c.PLC.Port)
	}

	seen := make(map[string]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		if _, dup := seen[ch.Name]; dup {
			invalid("channels[%d]: duplicate channel %q", i, ch.Name)
		}
		seen[ch.Name] = struct{}{}
		if _, err := codec.ParseKind(ch.Kind); err != nil {
			invalid("channels[%d]: %v", i, err)
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}
	if _, err := parseLogFormat(c.Log.Format); err != nil {
		invalid("log.format: %v", err)
	}

	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		invalid("http.listen is required when http is enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Broker == "" {
			invalid("telemetry.broker is required when telemetry is enabled")
		}
		if _, err := telemetry.ParseFormat(c.Telemetry.Format); err != nil {
			invalid("telemetry.format: %v", err)
		}
	}

	if c.WAGO.Enabled && c.WAGO.Host == "" {
		invalid("wago.host is required when wago is enabled")
	}
	for i, s := range c.WAGO.Sensors {
		if _, err := wago.ParseSensorKind(s.Kind); err != nil {
			invalid("wago.sensors[%d]: %v", i, err)
		}
	}

	if c.Pressure.Enabled {
		if c.Pressure.Host == "" {
			invalid("pressure.host is required when pressure is enabled")
		}
		if len(c.Pressure.Transducers) == 0 {
			invalid("pressure.transducers is required when pressure is enabled")
		}
	}
	if c.Depth.Enabled && c.Depth.Host == "" {
		invalid("depth.host is required when depth is enabled")
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger described by the log section.
func (c *Config) NewLogger(w io.Writer) (*logger.SlogLogger, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseLogFormat(c.Log.Format)
	if err != nil {
		return nil, err
	}

	return logger.NewSlogWriter(w, format, level, c.Log.AddSource), nil
}

// ControllerConfig converts the plc, identity, actuation, channels and groups sections.
func (c *Config) ControllerConfig(l logger.Logger) (*ieb.Config, error) {
	channels := make([]ieb.Channel, 0, len(c.Channels))
	for _, cc := range c.Channels {
		ch, err := cc.channel()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	groups := make([]ieb.DeviceGroup, 0, len(c.Groups))
	for _, gc := range c.Groups {
		groups = append(groups, gc.group())
	}

	opts := []ieb.Option{
		ieb.WithIdentity(c.Identity.Channel, c.Identity.Signature),
		ieb.WithPollInterval(c.Actuation.PollInterval),
		ieb.WithActuationTimeout(c.Actuation.Timeout),
		ieb.WithConnectTimeout(c.PLC.ConnectTimeout),
		ieb.WithReadTimeout(c.PLC.ReadTimeout),
		ieb.WithWriteTimeout(c.PLC.WriteTimeout),
		ieb.WithMaxLineLength(c.PLC.MaxLineLength),
		ieb.WithChannels(channels...),
		ieb.WithGroups(groups...),
	}
	if l != nil {
		opts = append(opts, ieb.WithLogger(l))
	}

	return ieb.NewConfig(c.PLC.Host, c.PLC.Port, opts...)
}

// PublisherConfig converts the telemetry section.
func (c *Config) PublisherConfig(l logger.Logger) (*telemetry.Config, error) {
	t := c.Telemetry
	format, err := telemetry.ParseFormat(t.Format)
	if err != nil {
		return nil, err
	}

	opts := []telemetry.Option{
		telemetry.WithRootTopic(t.RootTopic),
		telemetry.WithQoS(t.QoS),
		telemetry.WithRetain(t.Retain),
		telemetry.WithFormat(format),
		telemetry.WithInterval(t.Interval),
		telemetry.WithConnectTimeout(t.ConnectTimeout),
	}
	if t.ClientID != "" {
		opts = append(opts, telemetry.WithClientID(t.ClientID))
	}
	if t.Username != "" {
		opts = append(opts, telemetry.WithCredentials(t.Username, t.Password))
	}
	if l != nil {
		opts = append(opts, telemetry.WithLogger(l))
	}

	return telemetry.NewConfig(t.Broker, opts...)
}

// WAGOClientConfig converts the wago section. Empty sensor and relay lists keep the IEB defaults.
func (c *Config) WAGOClientConfig(l logger.Logger) (*wago.Config, error) {
	w := c.WAGO
	opts := []wago.Option{
		wago.WithPort(w.Port),
		wago.WithSlaveID(w.SlaveID),
		wago.WithTimeout(w.Timeout),
		wago.WithSettle(w.Settle),
		wago.WithImageRegister(w.ImageRegister),
	}

	if len(w.Sensors) > 0 {
		sensors := make([]wago.Sensor, 0, len(w.Sensors))
		for _, s := range w.Sensors {
			kind, err := wago.ParseSensorKind(s.Kind)
			if err != nil {
				return nil, err
			}
			sensors = append(sensors, wago.Sensor{Name: s.Name, Kind: kind, Register: s.Register})
		}
		opts = append(opts, wago.WithSensors(sensors...))
	}
	if len(w.Relays) > 0 {
		relays := make([]wago.Relay, 0, len(w.Relays))
		for _, r := range w.Relays {
			relays = append(relays, wago.Relay{Name: r.Name, Coil: r.Coil, Inverted: r.Inverted})
		}
		opts = append(opts, wago.WithRelays(relays...))
	}
	if l != nil {
		opts = append(opts, wago.WithLogger(l))
	}

	return wago.NewConfig(w.Host, opts...)
}

// SENS4Config converts the pressure section. A transducer without a device id answers to the factory address.
func (c *Config) SENS4Config(l logger.Logger) (*sens4.Config, error) {
	p := c.Pressure
	ts := make([]sens4.Transducer, 0, len(p.Transducers))
	for _, tc := range p.Transducers {
		id := tc.DeviceID
		if id == 0 {
			id = sens4.DefaultDeviceID
		}
		ts = append(ts, sens4.Transducer{Name: tc.Name, DeviceID: id})
	}

	opts := []sens4.Option{
		sens4.WithTransducers(ts...),
		sens4.WithTimeout(p.Timeout),
	}
	if l != nil {
		opts = append(opts, sens4.WithLogger(l))
	}

	return sens4.NewConfig(p.Host, p.Port, opts...)
}

// DepthClientConfig converts the depth section. An empty channel list reads the three default gauges.
func (c *Config) DepthClientConfig(l logger.Logger) (*depth.Config, error) {
	d := c.Depth
	opts := []depth.Option{
		depth.WithTimeout(d.Timeout),
		depth.WithCamera(d.Camera),
	}
	if len(d.Channels) > 0 {
		opts = append(opts, depth.WithChannels(d.Channels...))
	}
	if l != nil {
		opts = append(opts, depth.WithLogger(l))
	}

	return depth.NewConfig(d.Host, d.Port, opts...)
}

func (cc ChannelConfig) channel() (ieb.Channel, error) {
	kind, err := codec.ParseKind(cc.Kind)
	if err != nil {
		return ieb.Channel{}, err
	}
	ch := ieb.Channel{Name: cc.Name, Kind: kind, Unit: cc.Unit, Inverted: cc.Inverted, Range: cc.Range}

	switch v := cc.Safe.(type) {
	case nil:
	case bool:
		ch.Safe = codec.BoolValue(v)
	case int:
		ch.Safe = codec.FloatValue(float64(v))
	case float64:
		ch.Safe = codec.FloatValue(v)
	default:
		return ieb.Channel{}, fmt.Errorf("%w: channel %q: unsupported safe value %v", ErrInvalid, cc.Name, v)
	}

	return ch, nil
}

func (gc GroupConfig) group() ieb.DeviceGroup {
	return ieb.DeviceGroup{
		Name:         gc.Name,
		Power:        gc.Power,
		OpenSensor:   gc.OpenSensor,
		ClosedSensor: gc.ClosedSensor,
		Open:         gc.Open.actuation(),
		Close:        gc.Close.actuation(),
		Home:         gc.Home.actuation(),
	}
}

func (mc *MotionConfig) actuation() *ieb.Actuation {
	if mc == nil {
		return nil
	}
	return &ieb.Actuation{Output: mc.Output, Confirm: mc.Confirm, ConfirmValue: mc.Value}
}

func parseLogFormat(s string) (logger.Format, error) {
	switch f := logger.Format(strings.ToLower(strings.TrimSpace(s))); f {
	case logger.FormatAuto, logger.FormatJSON, logger.FormatConsole:
		return f, nil
	case "auto":
		return logger.FormatAuto, nil
	}
	return logger.FormatAuto, fmt.Errorf("unknown log format %q", s)
}
