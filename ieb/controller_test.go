package ieb

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/plcsim"
	"github.com/arloliu/go-ieb/transport"
)

func TestController_Initialize(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 20*time.Millisecond)
	sim.Set("hl_open_drv", codec.BoolValue(true))
	c := newTestController(t, sim)
	require.False(c.Initialized())

	snap, err := c.Initialize(testContext(t))
	require.NoError(err)
	require.True(c.Initialized())
	require.Equal(testIdentity, c.Identity())
	require.Equal(transport.Connected, snap.Connection)

	// outputs are driven to their safe values
	require.False(sim.Bool("hl_open_drv"))
	require.True(sim.Bool("door_power"))
	require.True(sim.Bool("shutter_power"), "inverted relay is on at the wire when logically off")

	rtd2, ok := snap.Channel("rtd2")
	require.True(ok)
	f, ok := rtd2.Float()
	require.True(ok)
	require.InDelta(-3.25, f, 1e-9)
	require.Equal("C", rtd2.Unit)
	require.False(rtd2.Stale)

	hl, ok := snap.Group(GroupHartmannLeft)
	require.True(ok)
	require.Equal(PositionClosed, hl.Position)
	require.Equal(ActuationIdle, hl.State)
}

func TestController_LogsConnStateNames(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	sim := newTestPLC(t, 0)
	c := newTestController(t, sim, WithLogger(logger.NewSlogWriter(&buf, logger.FormatJSON, logger.InfoLevel, false)))

	_, err := c.Initialize(testContext(t))
	require.NoError(err)
	require.Contains(buf.String(), `"from":"disconnected","to":"connected"`)
}

func TestController_InitializeIdentityMismatch(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newTestController(t, sim, WithIdentity("ID", "OTHER-BOX"))

	_, err := c.Initialize(testContext(t))
	require.ErrorIs(t, err, ErrInitialization)
	require.False(t, c.Initialized())
	require.Equal(t, transport.Disconnected, c.ConnState())
	require.Zero(t, sim.CountRequests(codec.OpWriteDigital, "door_power"), "no output is touched before the identity matches")
}

func TestController_InitializeUnreachable(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newTestController(t, sim)
	_ = sim.Close()

	_, err := c.Initialize(testContext(t))
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, transport.Faulted, c.ConnState())
}

func TestController_NotInitialized(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newTestController(t, sim)
	ctx := testContext(t)

	_, err := c.Status(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.WAGOEnv(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, c.OpenHartmann(ctx, SideLeft), ErrNotInitialized)
	_, err = c.SendCommand(ctx, "RD ID")
	require.ErrorIs(t, err, ErrNotInitialized)
	require.Empty(t, sim.Requests())

	_, err = c.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Stop())
	require.Equal(t, transport.Disconnected, c.ConnState())
	_, err = c.WAGOPower(ctx, "door_power")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestController_ConcurrentCallsAreSerialized(t *testing.T) {
	sim := newTestPLC(t, 0)
	sim.Set("hl_open", codec.BoolValue(true))
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	const n = 40
	before := c.Metrics().ExchangeCount.Load()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var err error
			switch i % 3 {
			case 0:
				var on bool
				if on, err = c.WAGOPower(ctx, "hl_open"); err == nil && !on {
					err = fmt.Errorf("call %d: hl_open read false", i)
				}
			case 1:
				var on bool
				if on, err = c.WAGOPower(ctx, "hr_open"); err == nil && on {
					err = fmt.Errorf("call %d: hr_open read true", i)
				}
			default:
				var id string
				if id, err = c.Ping(ctx); err == nil && id != testIdentity {
					err = fmt.Errorf("call %d: identity %q", i, id)
				}
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, uint64(n), c.Metrics().ExchangeCount.Load()-before)
	require.Len(t, sim.Requests(), n)
	require.Equal(t, 1, sim.Accepted())
}

func TestController_SetWAGOPower(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	for range 2 {
		on, err := c.SetWAGOPower(ctx, "door_power", true)
		require.NoError(err)
		require.True(on)
	}
	require.Equal(2, sim.CountRequests(codec.OpWriteDigital, "door_power"))
	require.True(sim.Bool("door_power"))

	on, err := c.WAGOPower(ctx, "door_power")
	require.NoError(err)
	require.True(on)

	st, ok := c.Snapshot().Channel("door_power")
	require.True(ok)
	v, _ := st.Bool()
	require.True(v)
}

func TestController_InvertedRelay(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	on, err := c.WAGOPower(ctx, "shutter_power")
	require.NoError(err)
	require.False(on)

	on, err = c.SetWAGOPower(ctx, "shutter_power", true)
	require.NoError(err)
	require.True(on)
	require.False(sim.Bool("shutter_power"))

	reqs := sim.Requests()
	require.Equal(codec.BoolValue(false), reqs[len(reqs)-1].Arg)
}

func TestController_SetWAGOPowerRejected(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	_, err := c.SetWAGOPower(ctx, "hl_open", true)
	require.ErrorIs(t, err, ErrEncoding)
	_, err = c.SetWAGOPower(ctx, "rtd1", true)
	require.ErrorIs(t, err, ErrEncoding)
	_, err = c.SetWAGOPower(ctx, "nope", true)
	require.ErrorIs(t, err, ErrUnknownChannel)
	require.Empty(t, sim.Requests())

	sim.InjectFault("door_power", plcsim.FaultIgnoreWrite, 1)
	_, err = c.SetWAGOPower(ctx, "door_power", false)
	require.ErrorIs(t, err, ErrDevice)
	require.True(t, sim.Bool("door_power"))
}

func TestController_WAGOEnv(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	sim.Set("rtd1", codec.FloatValue(22))
	sim.InjectFault("rtd2", plcsim.FaultMalformed, 1)

	env, err := c.WAGOEnv(ctx)
	require.NoError(err)
	require.Equal([]string{"rh1", "rtd1"}, env.Fresh())
	require.Equal([]string{"rtd2"}, env.Stale())

	rtd2 := env.Readings["rtd2"]
	require.ErrorIs(rtd2.Err, ErrProtocol)
	f, ok := rtd2.Float()
	require.True(ok, "stale channel keeps its last value")
	require.InDelta(-3.25, f, 1e-9)

	rtd1 := env.Readings["rtd1"]
	f, _ = rtd1.Float()
	require.InDelta(22.0, f, 1e-9)

	// the next successful read clears the stale flag
	env, err = c.WAGOEnv(ctx)
	require.NoError(err)
	require.Empty(env.Stale())
	require.Equal(transport.Connected, c.ConnState())
}

func TestController_WAGOEnvAllFailed(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)

	sim.InjectFault(plcsim.AnyChannel, plcsim.FaultError, 0)
	env, err := c.WAGOEnv(testContext(t))
	require.ErrorIs(t, err, ErrPartialRead)
	require.ErrorIs(t, err, ErrDevice)
	require.Len(t, env.Stale(), 3)
}

func TestController_WAGOEnvChannelLinkFailure(t *testing.T) {
	tests := []struct {
		name    string
		fault   plcsim.Fault
		wantErr error
	}{
		{"silent", plcsim.FaultSilent, ErrTimeout},
		{"disconnect", plcsim.FaultDisconnect, ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			sim := newTestPLC(t, 0)
			c := newInitializedController(t, sim)

			sim.InjectFault("rtd2", tt.fault, 0)
			env, err := c.WAGOEnv(testContext(t))
			require.NoError(err)
			require.NotNil(env)
			require.Equal([]string{"rh1", "rtd1"}, env.Fresh())
			require.Equal([]string{"rtd2"}, env.Stale())

			rtd2 := env.Readings["rtd2"]
			require.ErrorIs(rtd2.Err, ErrConnection)
			require.ErrorIs(rtd2.Err, tt.wantErr)
			f, _ := rtd2.Float()
			require.InDelta(-3.25, f, 1e-9)

			require.Equal(2, sim.CountRequests(codec.OpRead, "rtd2"), "one try and one retry")
			require.Equal(1, sim.CountRequests(codec.OpRead, "rh1"))
			require.Equal(transport.Connected, c.ConnState())
		})
	}
}

func TestController_WAGOEnvUnreachable(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)

	sim.InjectFault("rtd1", plcsim.FaultDisconnect, 0)
	sim.StopListening()

	env, err := c.WAGOEnv(testContext(t))
	require.ErrorIs(err, ErrPartialRead)
	require.ErrorIs(err, ErrConnection)
	require.NotNil(env)
	require.Len(env.Stale(), 3)
	for _, st := range env.Readings {
		require.ErrorIs(st.Err, ErrConnection)
	}

	// once the PLC cannot be reached the remaining channels are not tried
	require.Zero(sim.CountRequests(codec.OpRead, "rtd2"))
	require.Zero(sim.CountRequests(codec.OpRead, "rh1"))
	require.Equal(transport.Faulted, c.ConnState())
}

func TestController_StatusChannelLinkFailure(t *testing.T) {
	tests := []struct {
		name    string
		fault   plcsim.Fault
		wantErr error
	}{
		{"silent", plcsim.FaultSilent, ErrTimeout},
		{"disconnect", plcsim.FaultDisconnect, ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			sim := newTestPLC(t, 0)
			c := newInitializedController(t, sim)

			sim.InjectFault("hr_open", tt.fault, 0)
			snap, err := c.Status(testContext(t))
			require.NoError(err)

			hrOpen, _ := snap.Channel("hr_open")
			require.True(hrOpen.Stale)
			require.ErrorIs(hrOpen.Err, tt.wantErr)

			hrClosed, _ := snap.Channel("hr_closed")
			require.False(hrClosed.Stale)
			require.Equal(1, sim.CountRequests(codec.OpRead, "hr_closed"))

			hr, _ := snap.Group(GroupHartmannRight)
			require.Equal(PositionClosed, hr.Position)
			require.Equal(transport.Connected, snap.Connection)
		})
	}
}

func TestController_StatusReconnects(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)

	sim.InjectFault("hl_open", plcsim.FaultSilent, 1)
	snap, err := c.Status(testContext(t))
	require.NoError(err)
	require.Equal(transport.Connected, snap.Connection)
	require.Equal(uint64(1), c.Metrics().ReconnectCount.Load())
	require.Equal(uint64(1), c.TransportMetrics().TimeoutCount.Load())
	require.Equal(2, sim.Accepted())
	require.Equal(2, sim.CountRequests(codec.OpRead, "hl_open"))
}

func TestController_StatusReconnectFails(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)

	var states []transport.ConnState
	var mu sync.Mutex
	c.AddConnStateHandler(func(_, cur transport.ConnState) {
		mu.Lock()
		states = append(states, cur)
		mu.Unlock()
	})

	sim.InjectFault("hl_open", plcsim.FaultSilent, 0)
	sim.StopListening()

	_, err := c.Status(testContext(t))
	require.ErrorIs(err, ErrConnection)
	require.Equal(transport.Faulted, c.ConnState())
	require.Equal(uint64(1), c.Metrics().ReconnectCount.Load())
	require.Equal(1, sim.CountRequests(codec.OpRead, "hl_open"))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(states, transport.Faulted)
}

func TestController_SendCommand(t *testing.T) {
	require := require.New(t)

	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	ctx := testContext(t)

	body, err := c.SendCommand(ctx, "RD rtd1")
	require.NoError(err)
	require.Equal("rtd1=20.5 C", body)

	body, err = c.SendCommand(ctx, " RD nope ")
	require.NoError(err)
	require.Equal("ERR nope unknown channel", body)

	_, err = c.SendCommand(ctx, "")
	require.ErrorIs(err, ErrEncoding)

	// raw commands bypass the cache
	sim.Set("rtd1", codec.FloatValue(99))
	_, err = c.SendCommand(ctx, "RD rtd1")
	require.NoError(err)
	st, _ := c.Snapshot().Channel("rtd1")
	f, _ := st.Float()
	require.InDelta(20.5, f, 1e-9)
}

func TestController_StopWaitsForExchange(t *testing.T) {
	sim := newTestPLC(t, 0)
	c := newInitializedController(t, sim)
	sim.SetReplyDelay(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Ping(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return len(sim.Requests()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, <-done)
	require.False(t, c.Initialized())
}
