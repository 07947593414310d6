package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/ieb"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/transport"
	"github.com/arloliu/go-ieb/wago"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

type mockController struct {
	mock.Mock
}

func (m *mockController) Initialize(ctx context.Context) (*ieb.StatusSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*ieb.StatusSnapshot)
	return snap, args.Error(1)
}

func (m *mockController) Status(ctx context.Context) (*ieb.StatusSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*ieb.StatusSnapshot)
	return snap, args.Error(1)
}

func (m *mockController) Snapshot() *ieb.StatusSnapshot {
	return m.Called().Get(0).(*ieb.StatusSnapshot)
}

func (m *mockController) WAGOEnv(ctx context.Context) (*ieb.EnvSnapshot, error) {
	args := m.Called(ctx)
	env, _ := args.Get(0).(*ieb.EnvSnapshot)
	return env, args.Error(1)
}

func (m *mockController) Ping(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockController) WAGOPower(ctx context.Context, channel string) (bool, error) {
	args := m.Called(ctx, channel)
	return args.Bool(0), args.Error(1)
}

func (m *mockController) SetWAGOPower(ctx context.Context, channel string, on bool) (bool, error) {
	args := m.Called(ctx, channel, on)
	return args.Bool(0), args.Error(1)
}

func (m *mockController) OpenHartmann(ctx context.Context, side ieb.Side) error {
	return m.Called(ctx, side).Error(0)
}

func (m *mockController) CloseHartmann(ctx context.Context, side ieb.Side) error {
	return m.Called(ctx, side).Error(0)
}

func (m *mockController) OpenShutter(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockController) CloseShutter(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockController) SetHome(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockController) SendCommand(ctx context.Context, raw string) (string, error) {
	args := m.Called(ctx, raw)
	return args.String(0), args.Error(1)
}

type mockWAGO struct {
	mock.Mock
}

func (m *mockWAGO) ReadSensors(ctx context.Context) ([]wago.Reading, error) {
	args := m.Called(ctx)
	readings, _ := args.Get(0).([]wago.Reading)
	return readings, args.Error(1)
}

func (m *mockWAGO) ReadRelays(ctx context.Context) ([]wago.RelayState, error) {
	args := m.Called(ctx)
	relays, _ := args.Get(0).([]wago.RelayState)
	return relays, args.Error(1)
}

func (m *mockWAGO) SetRelay(ctx context.Context, name string, on bool) (wago.RelayState, bool, error) {
	args := m.Called(ctx, name, on)
	return args.Get(0).(wago.RelayState), args.Bool(1), args.Error(2)
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot() *ieb.StatusSnapshot {
	return &ieb.StatusSnapshot{
		Time:       testTime,
		Connection: transport.Connected,
		Channels: map[string]ieb.ChannelState{
			"door_power": {Name: "door_power", Kind: codec.KindDigitalOut, Value: codec.BoolValue(true), Updated: testTime},
			"rtd1":       {Name: "rtd1", Kind: codec.KindAnalogIn, Value: codec.FloatValue(21.5), Unit: "C", Updated: testTime},
		},
		Groups: map[string]ieb.GroupStatus{
			"hartmann_left": {Name: "hartmann_left", State: ieb.ActuationIdle, Position: ieb.PositionOpen, Updated: testTime},
		},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *mockController, *mockWAGO) {
	t.Helper()

	ctrl := new(mockController)
	w := new(mockWAGO)
	t.Cleanup(func() {
		ctrl.AssertExpectations(t)
		w.AssertExpectations(t)
	})

	return NewRouter(ctrl, w, logger.GetLogger()), ctrl, w
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	return v
}

func TestRouter_Status(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("Status", mock.Anything).Return(testSnapshot(), nil).Once()

	rec := doRequest(t, h, http.MethodGet, "/status", nil)
	require.Equal(http.StatusOK, rec.Code)

	report := decode[ieb.StatusReport](t, rec)
	require.Equal("connected", report.Connection)
	require.Len(report.Channels, 2)
	require.Equal("door_power", report.Channels[0].Name)
	require.Equal(true, report.Channels[0].Value)
	require.Len(report.Groups, 1)
	require.Equal("open", report.Groups[0].Position)
}

func TestRouter_StatusCached(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("Snapshot").Return(testSnapshot()).Once()

	rec := doRequest(t, h, http.MethodGet, "/status?cached=true", nil)
	require.Equal(http.StatusOK, rec.Code)
	ctrl.AssertNotCalled(t, "Status", mock.Anything)
}

func TestRouter_Env(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	env := &ieb.EnvSnapshot{
		Time: testTime,
		Readings: map[string]ieb.ChannelState{
			"rtd1": {Name: "rtd1", Kind: codec.KindAnalogIn, Value: codec.FloatValue(21.5), Unit: "C"},
			"rtd2": {Name: "rtd2", Kind: codec.KindAnalogIn, Stale: true, Err: ieb.ErrProtocol},
		},
	}
	ctrl.On("WAGOEnv", mock.Anything).Return(env, nil).Once()

	rec := doRequest(t, h, http.MethodGet, "/env", nil)
	require.Equal(http.StatusOK, rec.Code)

	report := decode[ieb.EnvReport](t, rec)
	require.Len(report.Readings, 2)
	require.False(report.Readings[0].Stale)
	require.True(report.Readings[1].Stale)
	require.NotEmpty(report.Readings[1].Error)
}

func TestRouter_Ping(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("Ping", mock.Anything).Return("IEB-SIM rev 2", nil).Once()

	rec := doRequest(t, h, http.MethodGet, "/ping", nil)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("IEB-SIM rev 2", decode[PingResponse](t, rec).Identity)
}

func TestRouter_Init(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("Initialize", mock.Anything).Return(nil, fmt.Errorf("%w: identity mismatch", ieb.ErrInitialization)).Once()
	rec := doRequest(t, h, http.MethodPost, "/init", nil)
	require.Equal(http.StatusConflict, rec.Code)
	require.Contains(decode[ErrorResponse](t, rec).Error, "identity mismatch")

	ctrl.On("Initialize", mock.Anything).Return(testSnapshot(), nil).Once()
	rec = doRequest(t, h, http.MethodPost, "/init", nil)
	require.Equal(http.StatusOK, rec.Code)
}

func TestRouter_Power(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("WAGOPower", mock.Anything, "door_power").Return(false, nil).Once()
	rec := doRequest(t, h, http.MethodGet, "/power/door_power", nil)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal(PowerResponse{Channel: "door_power", On: false}, decode[PowerResponse](t, rec))

	ctrl.On("SetWAGOPower", mock.Anything, "door_power", true).Return(true, nil).Once()
	rec = doRequest(t, h, http.MethodPut, "/power/door_power", map[string]bool{"on": true})
	require.Equal(http.StatusOK, rec.Code)
	require.Equal(PowerResponse{Channel: "door_power", On: true}, decode[PowerResponse](t, rec))
}

func TestRouter_PowerBadBody(t *testing.T) {
	require := require.New(t)
	h, _, _ := newTestRouter(t)

	for _, body := range []string{"", "{}", `{"on":"yes"}`, `{"on":true,"extra":1}`} {
		rec := doRequest(t, h, http.MethodPut, "/power/door_power", body)
		require.Equal(http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestRouter_Hartmann(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("OpenHartmann", mock.Anything, ieb.SideLeft).Return(nil).Once()
	ctrl.On("CloseHartmann", mock.Anything, ieb.SideBoth).Return(fmt.Errorf("hartmann_right: %w", ieb.ErrActuationTimeout)).Once()
	ctrl.On("Snapshot").Return(testSnapshot()).Once()

	rec := doRequest(t, h, http.MethodPost, "/hartmann/left/open", nil)
	require.Equal(http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/hartmann/both/close", nil)
	require.Equal(http.StatusGatewayTimeout, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/hartmann/middle/open", nil)
	require.Equal(http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/hartmann/left/spin", nil)
	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestRouter_ShutterAndHome(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("OpenShutter", mock.Anything).Return(nil).Once()
	ctrl.On("CloseShutter", mock.Anything).Return(errors.Join(context.Canceled, ieb.ErrConnection)).Once()
	ctrl.On("SetHome", mock.Anything).Return(nil).Once()
	ctrl.On("Snapshot").Return(testSnapshot()).Twice()

	require.Equal(http.StatusOK, doRequest(t, h, http.MethodPost, "/shutter/open", nil).Code)
	require.Equal(http.StatusServiceUnavailable, doRequest(t, h, http.MethodPost, "/shutter/close", nil).Code)
	require.Equal(http.StatusOK, doRequest(t, h, http.MethodPost, "/home", nil).Code)
	require.Equal(http.StatusMethodNotAllowed, doRequest(t, h, http.MethodGet, "/home", nil).Code)
}

func TestRouter_Raw(t *testing.T) {
	require := require.New(t)
	h, ctrl, _ := newTestRouter(t)

	ctrl.On("SendCommand", mock.Anything, "RD rtd1").Return("rtd1=21.5 C", nil).Once()
	ctrl.On("SendCommand", mock.Anything, "").Return("", ieb.ErrEncoding).Once()

	rec := doRequest(t, h, http.MethodPost, "/raw", RawRequest{Command: "RD rtd1"})
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("rtd1=21.5 C", decode[RawResponse](t, rec).Reply)

	rec = doRequest(t, h, http.MethodPost, "/raw", RawRequest{})
	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestRouter_WAGO(t *testing.T) {
	require := require.New(t)
	h, _, w := newTestRouter(t)

	w.On("ReadSensors", mock.Anything).Return([]wago.Reading{{Name: "rtd1", Kind: "rtd", Value: 21.5, Unit: "C", Raw: 215}}, nil).Once()
	w.On("ReadRelays", mock.Anything).Return(nil, fmt.Errorf("%w: dial tcp: refused", wago.ErrConnection)).Once()
	w.On("SetRelay", mock.Anything, "shutter_power", true).
		Return(wago.RelayState{Name: "shutter_power", On: true, Output: false}, true, nil).Once()
	w.On("SetRelay", mock.Anything, "fan", true).
		Return(wago.RelayState{}, false, fmt.Errorf("%w: fan", wago.ErrUnknownRelay)).Once()

	rec := doRequest(t, h, http.MethodGet, "/wago/sensors", nil)
	require.Equal(http.StatusOK, rec.Code)
	readings := decode[[]wago.Reading](t, rec)
	require.Len(readings, 1)
	require.InDelta(21.5, readings[0].Value, 1e-9)

	rec = doRequest(t, h, http.MethodGet, "/wago/relays", nil)
	require.Equal(http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/wago/relays/shutter_power", map[string]bool{"on": true})
	require.Equal(http.StatusOK, rec.Code)
	resp := decode[RelayResponse](t, rec)
	require.True(resp.Changed)
	require.True(resp.Relay.On)
	require.False(resp.Relay.Output)

	rec = doRequest(t, h, http.MethodPut, "/wago/relays/fan", map[string]bool{"on": true})
	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestRouter_WithoutWAGO(t *testing.T) {
	h := NewRouter(new(mockController), nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/wago/sensors", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ieb.ErrUnknownChannel, http.StatusBadRequest},
		{ieb.ErrUnknownGroup, http.StatusBadRequest},
		{ieb.ErrInvalidSide, http.StatusBadRequest},
		{ieb.ErrNotInitialized, http.StatusConflict},
		{errors.Join(ieb.ErrInitialization, ieb.ErrConnection), http.StatusConflict},
		{ieb.ErrTimeout, http.StatusServiceUnavailable},
		{ieb.ErrIO, http.StatusServiceUnavailable},
		{errors.Join(ieb.ErrActuationTimeout, ieb.ErrConnection), http.StatusServiceUnavailable},
		{ieb.ErrActuationTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{ieb.ErrProtocol, http.StatusBadGateway},
		{ieb.ErrDevice, http.StatusBadGateway},
		{errors.Join(ieb.ErrPartialRead, ieb.ErrDevice), http.StatusBadGateway},
		{wago.ErrRelayMismatch, http.StatusBadGateway},
		{sens4.ErrUnknownTransducer, http.StatusBadRequest},
		{sens4.ErrDevice, http.StatusBadGateway},
		{sens4.ErrNoReading, http.StatusBadGateway},
		{depth.ErrProtocol, http.StatusBadGateway},
		{fmt.Errorf("depth: channel A: %w", depth.ErrConnection), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestServer_StartStop(t *testing.T) {
	require := require.New(t)

	ctrl := new(mockController)
	ctrl.On("Ping", mock.Anything).Return("IEB-SIM rev 2", nil)

	srv := NewServer("127.0.0.1:0", NewRouter(ctrl, nil, nil), nil)
	require.Empty(srv.Address())
	require.NoError(srv.Start())
	require.True(srv.IsRunning())
	require.NoError(srv.Start())

	resp, err := http.Get(srv.Address() + "/ping")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var ping PingResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&ping))
	require.Equal("IEB-SIM rev 2", ping.Identity)

	require.NoError(srv.Stop())
	require.False(srv.IsRunning())
	require.Empty(srv.Address())
	require.NoError(srv.Stop())
}
