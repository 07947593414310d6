package ieb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/transport"
)

func TestNewConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig("plc", 9999)
	require.NoError(err)
	require.Equal("plc:9999", cfg.Transport().Addr())
	require.Equal(transport.DefaultReadTimeout, cfg.Transport().ReadTimeout())
	require.Equal(DefaultPollInterval, cfg.PollInterval())
	require.Equal(DefaultActuationTimeout, cfg.ActuationTimeout())
	require.Equal(DefaultIdentityChannel, cfg.IdentityChannel())
	require.Empty(cfg.Signature())

	id, ok := cfg.Channel("ID")
	require.True(ok)
	require.Equal(codec.KindIdentity, id.Kind)
	require.Empty(cfg.GroupNames())
}

func TestNewConfig_Options(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig("plc", 9999,
		WithChannels(testChannels()...),
		WithGroups(testGroups()...),
		WithIdentity("ident", "IEB"),
		WithPollInterval(50*time.Millisecond),
		WithActuationTimeout(time.Minute),
		WithReadTimeout(time.Second),
		WithMaxLineLength(256),
	)
	require.NoError(err)
	require.Equal(time.Second, cfg.Transport().ReadTimeout())
	require.Equal(256, cfg.Transport().MaxLineLength())
	require.Equal([]string{GroupHartmannLeft, GroupHartmannRight}, cfg.GroupNames())
	require.Equal("ident", cfg.IdentityChannel())

	analog := cfg.ChannelsOfKind(codec.KindAnalogIn)
	require.Len(analog, 3)
	require.Equal("rtd1", analog[0].Name)
	require.Len(cfg.Channels(), len(testChannels())+1)
}

func TestNewConfig_Invalid(t *testing.T) {
	out := func(name string) Channel { return Channel{Name: name, Kind: codec.KindDigitalOut} }
	in := func(name string) Channel { return Channel{Name: name, Kind: codec.KindDigitalIn} }

	tests := []struct {
		name string
		port int
		opts []Option
	}{
		{"bad port", 0, nil},
		{"bad channel name", 1, []Option{WithChannels(Channel{Name: "a b", Kind: codec.KindDigitalIn})}},
		{"duplicate channel", 1, []Option{WithChannels(in("a"), in("a"))}},
		{"missing kind", 1, []Option{WithChannels(Channel{Name: "a"})}},
		{"inverted analog", 1, []Option{WithChannels(Channel{Name: "a", Kind: codec.KindAnalogIn, Inverted: true})}},
		{"safe value on input", 1, []Option{WithChannels(Channel{Name: "a", Kind: codec.KindDigitalIn, Safe: codec.BoolValue(true)})}},
		{"safe value out of range", 1, []Option{WithChannels(Channel{
			Name: "a", Kind: codec.KindAnalogOut, Safe: codec.FloatValue(20), Range: &codec.Range{Min: 0, Max: 10},
		})}},
		{"identity not identity kind", 1, []Option{WithChannels(in("ID"))}},
		{"poll slower than timeout", 1, []Option{WithPollInterval(time.Second), WithActuationTimeout(time.Second)}},
		{"poll too fast", 1, []Option{WithPollInterval(time.Millisecond)}},
		{"timeout too long", 1, []Option{WithActuationTimeout(time.Hour)}},
		{"unnamed group", 1, []Option{WithGroups(DeviceGroup{})}},
		{"unknown output", 1, []Option{
			WithChannels(in("lim")),
			WithGroups(DeviceGroup{Name: "g", Open: &Actuation{Output: "drv", Confirm: "lim"}}),
		}},
		{"confirm is an output", 1, []Option{
			WithChannels(out("drv"), out("lim")),
			WithGroups(DeviceGroup{Name: "g", Open: &Actuation{Output: "drv", Confirm: "lim"}}),
		}},
		{"power is an input", 1, []Option{
			WithChannels(out("drv"), in("lim"), in("pwr")),
			WithGroups(DeviceGroup{Name: "g", Power: "pwr", Open: &Actuation{Output: "drv", Confirm: "lim"}}),
		}},
		{"actuation without confirm", 1, []Option{
			WithChannels(out("drv")),
			WithGroups(DeviceGroup{Name: "g", Open: &Actuation{Output: "drv"}}),
		}},
		{"nil logger", 1, []Option{WithLogger(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig("plc", tt.port, tt.opts...)
			require.Error(t, err)
		})
	}
}
