package wago

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/plcsim"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newTestCoupler(t *testing.T) (*plcsim.ModbusServer, *Client) {
	t.Helper()

	sim := plcsim.NewModbusServer(nil)
	require.NoError(t, sim.Listen("127.0.0.1:0"))
	t.Cleanup(sim.Close)

	cfg, err := NewConfig("127.0.0.1",
		WithPort(sim.Port()),
		WithTimeout(time.Second),
		WithSettle(10*time.Millisecond),
	)
	require.NoError(t, err)

	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Close() })

	return sim, c
}

func TestConvert(t *testing.T) {
	require.InDelta(t, 21.5, RTDToCelsius(215), 1e-9)
	require.InDelta(t, -5.0, RTDToCelsius(65485), 1e-9)
	require.InDelta(t, 850.0, RTDToCelsius(8500), 1e-9)
	require.InDelta(t, 50.0, HumidityFromRaw(16384), 0.01)
	require.InDelta(t, -30.0, TemperatureFromRaw(0), 1e-9)
	require.InDelta(t, 70.0, TemperatureFromRaw(32767), 1e-9)
}

func TestClient_ReadSensors(t *testing.T) {
	require := require.New(t)

	sim, c := newTestCoupler(t)
	for reg, raw := range map[uint16]uint16{0: 16384, 1: 16384, 8: 215, 11: 65485} {
		require.NoError(sim.SetHoldingRegister(reg, raw))
	}

	readings, err := c.ReadSensors(context.Background())
	require.NoError(err)
	require.Len(readings, 10)

	byName := make(map[string]Reading, len(readings))
	for _, r := range readings {
		byName[r.Name] = r
	}
	require.InDelta(50.0, byName["rh1"].Value, 0.01)
	require.Equal("%", byName["rh1"].Unit)
	require.InDelta(20.0, byName["t1"].Value, 0.01)
	require.InDelta(21.5, byName["rtd1"].Value, 1e-9)
	require.InDelta(-5.0, byName["rtd4"].Value, 1e-9)
	require.Equal(uint16(65485), byName["rtd4"].Raw)
	require.Equal("rtd", byName["rtd4"].Kind)
}

func TestClient_SetRelay(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim, c := newTestCoupler(t)

	relays, err := c.ReadRelays(ctx)
	require.NoError(err)
	require.Equal([]RelayState{
		{Name: "shutter_power", On: true},
		{Name: "hartmann_left_power"},
		{Name: "hartmann_right_power"},
	}, relays)

	st, changed, err := c.SetRelay(ctx, "hartmann_left_power", true)
	require.NoError(err)
	require.True(changed)
	require.True(st.On)
	require.True(sim.Coil(2))

	_, changed, err = c.SetRelay(ctx, "hartmann_left_power", true)
	require.NoError(err)
	require.False(changed)
	require.Equal(1, sim.CoilWrites())

	// the shutter relay powers its device while the output is off
	st, changed, err = c.SetRelay(ctx, "shutter_power", false)
	require.NoError(err)
	require.True(changed)
	require.False(st.On)
	require.True(st.Output)
	require.True(sim.Coil(0))

	_, _, err = c.SetRelay(ctx, "nope", true)
	require.ErrorIs(err, ErrUnknownRelay)
}

func TestClient_Reconnect(t *testing.T) {
	sim, c := newTestCoupler(t)
	ctx := context.Background()

	_, err := c.ReadRelays(ctx)
	require.NoError(t, err)

	sim.DropConnections()
	require.NoError(t, sim.SetCoil(3, true))

	relays, err := c.ReadRelays(ctx)
	require.NoError(t, err)
	require.True(t, relays[2].On)
}

func TestClient_Unreachable(t *testing.T) {
	sim, c := newTestCoupler(t)
	sim.Close()

	_, err := c.ReadSensors(context.Background())
	require.ErrorIs(t, err, ErrConnection)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		host string
		opts []Option
	}{
		{"empty host", "", nil},
		{"bad port", "h", []Option{WithPort(70000)}},
		{"zero timeout", "h", []Option{WithTimeout(0)}},
		{"negative settle", "h", []Option{WithSettle(-time.Second)}},
		{"duplicate relay", "h", []Option{WithRelays(Relay{Name: "a"}, Relay{Name: "a", Coil: 1})}},
		{"coil out of range", "h", []Option{WithRelays(Relay{Name: "a", Coil: 16})}},
		{"sensor without kind", "h", []Option{WithSensors(Sensor{Name: "a"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.host, tt.opts...)
			require.Error(t, err)
		})
	}
}

func TestSpans(t *testing.T) {
	got := spans([]Sensor{{Register: 0}, {Register: 1}, {Register: 3}, {Register: 8}, {Register: 9}})
	require.Len(t, got, 3)
	require.Len(t, got[0], 2)
	require.Len(t, got[1], 1)
	require.Len(t, got[2], 2)
}
