// Package api exposes the IEB controller over HTTP for operators and scripts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/ieb"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/wago"
)

// Controller is the subset of ieb.Controller served over HTTP.
type Controller interface {
	Initialize(ctx context.Context) (*ieb.StatusSnapshot, error)
	Status(ctx context.Context) (*ieb.StatusSnapshot, error)
	Snapshot() *ieb.StatusSnapshot
	WAGOEnv(ctx context.Context) (*ieb.EnvSnapshot, error)
	Ping(ctx context.Context) (string, error)
	WAGOPower(ctx context.Context, channel string) (bool, error)
	SetWAGOPower(ctx context.Context, channel string, on bool) (bool, error)
	OpenHartmann(ctx context.Context, side ieb.Side) error
	CloseHartmann(ctx context.Context, side ieb.Side) error
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	SetHome(ctx context.Context) error
	SendCommand(ctx context.Context, raw string) (string, error)
}

// WAGO is the subset of wago.Client served over HTTP.
type WAGO interface {
	ReadSensors(ctx context.Context) ([]wago.Reading, error)
	ReadRelays(ctx context.Context) ([]wago.RelayState, error)
	SetRelay(ctx context.Context, name string, on bool) (wago.RelayState, bool, error)
}

// PowerRequest is the body of PUT /power/{channel} and PUT /wago/relays/{name}.
type PowerRequest struct {
	On *bool `json:"on"`
}

// PowerResponse reports the state of a relay after a read or write.
type PowerResponse struct {
	Channel string `json:"channel"`
	On      bool   `json:"on"`
}

// RelayResponse reports the result of PUT /wago/relays/{name}.
type RelayResponse struct {
	Relay   wago.RelayState `json:"relay"`
	Changed bool            `json:"changed"`
}

// RawRequest is the body of POST /raw.
type RawRequest struct {
	Command string `json:"command"`
}

// RawResponse carries the raw reply body of POST /raw.
type RawResponse struct {
	Reply string `json:"reply"`
}

// PingResponse carries the PLC identity.
type PingResponse struct {
	Identity string `json:"identity"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	ctrl     Controller
	wago     WAGO
	pressure Pressure
	depth    Depth
	logger   logger.Logger
}

// NewRouter returns the HTTP routes for ctrl. The /wago routes are only
// mounted when w is not nil, the /pressure and /depth routes only when
// given through WithPressure and WithDepth.
func NewRouter(ctrl Controller, w WAGO, l logger.Logger, opts ...RouterOption) chi.Router {
	if l == nil {
		l = logger.GetLogger()
	}
	h := &handlers{ctrl: ctrl, wago: w, logger: l.With("component", "api")}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/status", h.handleStatus)
	r.Get("/env", h.handleEnv)
	r.Get("/ping", h.handlePing)
	r.Post("/init", h.handleInit)
	r.Post("/home", h.handleHome)
	r.Post("/raw", h.handleRaw)

	r.Get("/power/{channel}", h.handleGetPower)
	r.Put("/power/{channel}", h.handleSetPower)
	r.Post("/hartmann/{side}/{action}", h.handleHartmann)
	r.Post("/shutter/{action}", h.handleShutter)

	if w != nil {
		r.Route("/wago", func(r chi.Router) {
			r.Get("/sensors", h.handleWAGOSensors)
			r.Get("/relays", h.handleWAGORelays)
			r.Put("/relays/{name}", h.handleSetWAGORelay)
		})
	}
	h.mountInstruments(r)

	return r
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *handlers) badRequest(w http.ResponseWriter, format string, args ...any) {
	h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// StatusCode maps a controller error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ieb.ErrEncoding), errors.Is(err, ieb.ErrUnknownChannel),
		errors.Is(err, ieb.ErrUnknownGroup), errors.Is(err, ieb.ErrInvalidSide),
		errors.Is(err, wago.ErrUnknownRelay), errors.Is(err, sens4.ErrUnknownTransducer):
		return http.StatusBadRequest
	case errors.Is(err, ieb.ErrNotInitialized), errors.Is(err, ieb.ErrInitialization):
		return http.StatusConflict
	case errors.Is(err, ieb.ErrConnection), errors.Is(err, ieb.ErrTimeout),
		errors.Is(err, ieb.ErrIO), errors.Is(err, wago.ErrConnection),
		errors.Is(err, sens4.ErrConnection), errors.Is(err, depth.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, ieb.ErrActuationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ieb.ErrProtocol), errors.Is(err, ieb.ErrDevice),
		errors.Is(err, ieb.ErrPartialRead), errors.Is(err, wago.ErrRelayMismatch),
		errors.Is(err, sens4.ErrProtocol), errors.Is(err, sens4.ErrDevice),
		errors.Is(err, sens4.ErrNoReading), errors.Is(err, depth.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}

func pathParam(r *http.Request, key string) string {
	v, err := url.PathUnescape(chi.URLParam(r, key))
	if err != nil {
		return chi.URLParam(r, key)
	}
	return v
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") == "true" {
		h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Report())
		return
	}

	snap, err := h.ctrl.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Report())
}

func (h *handlers) handleEnv(w http.ResponseWriter, r *http.Request) {
	env, err := h.ctrl.WAGOEnv(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, env.Report())
}

func (h *handlers) handlePing(w http.ResponseWriter, r *http.Request) {
	id, err := h.ctrl.Ping(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PingResponse{Identity: id})
}

func (h *handlers) handleInit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Initialize(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Report())
}

func (h *handlers) handleHome(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.SetHome(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Report())
}

func (h *handlers) handleRaw(w http.ResponseWriter, r *http.Request) {
	var req RawRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.badRequest(w, "invalid body: %v", err)
		return
	}

	reply, err := h.ctrl.SendCommand(r.Context(), req.Command)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RawResponse{Reply: reply})
}

func (h *handlers) handleGetPower(w http.ResponseWriter, r *http.Request) {
	channel := pathParam(r, "channel")
	on, err := h.ctrl.WAGOPower(r.Context(), channel)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PowerResponse{Channel: channel, On: on})
}

func (h *handlers) handleSetPower(w http.ResponseWriter, r *http.Request) {
	channel := pathParam(r, "channel")
	var req PowerRequest
	if err := decodeBody(w, r, &req); err != nil || req.On == nil {
		h.badRequest(w, `body must be {"on": true|false}`)
		return
	}

	on, err := h.ctrl.SetWAGOPower(r.Context(), channel, *req.On)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PowerResponse{Channel: channel, On: on})
}

func (h *handlers) handleHartmann(w http.ResponseWriter, r *http.Request) {
	side, err := ieb.ParseSide(pathParam(r, "side"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch action := pathParam(r, "action"); action {
	case "open":
		err = h.ctrl.OpenHartmann(r.Context(), side)
	case "close":
		err = h.ctrl.CloseHartmann(r.Context(), side)
	default:
		h.badRequest(w, "unknown action %q", action)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Report())
}

func (h *handlers) handleShutter(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := pathParam(r, "action"); action {
	case "open":
		err = h.ctrl.OpenShutter(r.Context())
	case "close":
		err = h.ctrl.CloseShutter(r.Context())
	default:
		h.badRequest(w, "unknown action %q", action)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Report())
}

func (h *handlers) handleWAGOSensors(w http.ResponseWriter, r *http.Request) {
	readings, err := h.wago.ReadSensors(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, readings)
}

func (h *handlers) handleWAGORelays(w http.ResponseWriter, r *http.Request) {
	relays, err := h.wago.ReadRelays(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, relays)
}

func (h *handlers) handleSetWAGORelay(w http.ResponseWriter, r *http.Request) {
	var req PowerRequest
	if err := decodeBody(w, r, &req); err != nil || req.On == nil {
		h.badRequest(w, `body must be {"on": true|false}`)
		return
	}

	state, changed, err := h.wago.SetRelay(r.Context(), pathParam(r, "name"), *req.On)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RelayResponse{Relay: state, Changed: changed})
}
