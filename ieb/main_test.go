package ieb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ieb/codec"
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

const testIdentity = "IEB-SIM rev 2"

func testChannels() []Channel {
	return []Channel{
		{Name: "door_power", Kind: codec.KindDigitalOut, Safe: codec.BoolValue(true)},
		{Name: "shutter_power", Kind: codec.KindDigitalOut, Inverted: true},
		{Name: "hl_open_drv", Kind: codec.KindDigitalOut},
		{Name: "hl_close_drv", Kind: codec.KindDigitalOut},
		{Name: "hl_open", Kind: codec.KindDigitalIn},
		{Name: "hl_closed", Kind: codec.KindDigitalIn},
		{Name: "hr_open_drv", Kind: codec.KindDigitalOut},
		{Name: "hr_close_drv", Kind: codec.KindDigitalOut},
		{Name: "hr_open", Kind: codec.KindDigitalIn},
		{Name: "hr_closed", Kind: codec.KindDigitalIn},
		{Name: "rtd1", Kind: codec.KindAnalogIn, Unit: "C"},
		{Name: "rtd2", Kind: codec.KindAnalogIn, Unit: "C"},
		{Name: "rh1", Kind: codec.KindAnalogIn, Unit: "%"},
	}
}

func testGroups() []DeviceGroup {
	return []DeviceGroup{
		{
			Name:         GroupHartmannLeft,
			Power:        "door_power",
			OpenSensor:   "hl_open",
			ClosedSensor: "hl_closed",
			Open:         &Actuation{Output: "hl_open_drv", Confirm: "hl_open", ConfirmValue: true},
			Close:        &Actuation{Output: "hl_close_drv", Confirm: "hl_closed", ConfirmValue: true},
		},
		{
			Name:         GroupHartmannRight,
			OpenSensor:   "hr_open",
			ClosedSensor: "hr_closed",
			Open:         &Actuation{Output: "hr_open_drv", Confirm: "hr_open", ConfirmValue: true},
			Close:        &Actuation{Output: "hr_close_drv", Confirm: "hr_closed", ConfirmValue: true},
			Home:         &Actuation{Output: "hr_close_drv", Confirm: "hr_closed", ConfirmValue: true},
		},
	}
}

// newTestPLC starts a simulator whose process image matches testChannels.
// Both doors start closed and their motors reach the opposite switch after delay.
func newTestPLC(t *testing.T, delay time.Duration) *plcsim.Server {
	t.Helper()

	points := []plcsim.Point{
		{Name: "rtd1", Kind: codec.KindAnalogIn, Unit: "C", Value: codec.FloatValue(20.5)},
		{Name: "rtd2", Kind: codec.KindAnalogIn, Unit: "C", Value: codec.FloatValue(-3.25)},
		{Name: "rh1", Kind: codec.KindAnalogIn, Unit: "%", Value: codec.FloatValue(41)},
		{Name: "hl_closed", Kind: codec.KindDigitalIn, Value: codec.BoolValue(true)},
		{Name: "hr_closed", Kind: codec.KindDigitalIn, Value: codec.BoolValue(true)},
		{Name: "hl_open", Kind: codec.KindDigitalIn, Value: codec.BoolValue(false)},
		{Name: "hr_open", Kind: codec.KindDigitalIn, Value: codec.BoolValue(false)},
	}
	for _, name := range []string{"door_power", "shutter_power", "hl_open_drv", "hl_close_drv", "hr_open_drv", "hr_close_drv"} {
		points = append(points, plcsim.Point{Name: name, Kind: codec.KindDigitalOut, Value: codec.BoolValue(false)})
	}

	sim := plcsim.NewServer(plcsim.WithIdentity("ID", testIdentity), plcsim.WithPoints(points...))
	for _, side := range []string{"hl", "hr"} {
		sim.Link(side+"_open_drv", side+"_closed", false, delay)
		sim.Link(side+"_open_drv", side+"_open", true, delay)
		sim.Link(side+"_close_drv", side+"_open", false, delay)
		sim.Link(side+"_close_drv", side+"_closed", true, delay)
	}
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = sim.Close() })

	return sim
}

func newTestController(t *testing.T, sim *plcsim.Server, opts ...Option) *Controller {
	t.Helper()

	opts = append([]Option{
		WithIdentity("ID", "IEB-SIM"),
		WithChannels(testChannels()...),
		WithGroups(testGroups()...),
		WithPollInterval(10 * time.Millisecond),
		WithActuationTimeout(500 * time.Millisecond),
		WithReadTimeout(200 * time.Millisecond),
		WithConnectTimeout(500 * time.Millisecond),
	}, opts...)
	cfg, err := NewConfig("127.0.0.1", sim.Port(), opts...)
	require.NoError(t, err)

	c := NewController(cfg)
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

// newInitializedController returns a controller that completed Initialize,
// with the simulator request log cleared.
func newInitializedController(t *testing.T, sim *plcsim.Server, opts ...Option) *Controller {
	t.Helper()

	c := newTestController(t, sim, opts...)
	_, err := c.Initialize(testContext(t))
	require.NoError(t, err)
	sim.ResetRequests()

	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}
