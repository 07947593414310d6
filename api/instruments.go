package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/sens4"
)

// Pressure is the subset of sens4.Client served over HTTP.
type Pressure interface {
	ReadAll(ctx context.Context) ([]sens4.Reading, error)
}

// Depth is the subset of depth.Client served over HTTP.
type Depth interface {
	Read(ctx context.Context) (depth.Measurement, error)
	Camera() string
	SetCamera(name string)
}

// CameraRequest is the body of PUT /depth/camera.
type CameraRequest struct {
	Camera string `json:"camera"`
}

// CameraResponse reports the mounted camera.
type CameraResponse struct {
	Camera string `json:"camera"`
}

// RouterOption mounts optional instrument routes.
type RouterOption func(*handlers)

// WithPressure mounts GET /pressure served by p.
func WithPressure(p Pressure) RouterOption {
	return func(h *handlers) { h.pressure = p }
}

// WithDepth mounts the /depth routes served by d.
func WithDepth(d Depth) RouterOption {
	return func(h *handlers) { h.depth = d }
}

func (h *handlers) mountInstruments(r chi.Router) {
	if h.pressure != nil {
		r.Get("/pressure", h.handlePressure)
	}
	if h.depth != nil {
		r.Get("/depth", h.handleDepth)
		r.Get("/depth/camera", h.handleGetCamera)
		r.Put("/depth/camera", h.handleSetCamera)
	}
}

func (h *handlers) handlePressure(w http.ResponseWriter, r *http.Request) {
	readings, err := h.pressure.ReadAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, readings)
}

func (h *handlers) handleDepth(w http.ResponseWriter, r *http.Request) {
	m, err := h.depth.Read(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *handlers) handleGetCamera(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, CameraResponse{Camera: h.depth.Camera()})
}

func (h *handlers) handleSetCamera(w http.ResponseWriter, r *http.Request) {
	var req CameraRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Camera) == "" {
		h.badRequest(w, `body must be {"camera": "<name>"}`)
		return
	}

	h.depth.SetCamera(strings.TrimSpace(req.Camera))
	h.writeJSON(w, http.StatusOK, CameraResponse{Camera: h.depth.Camera()})
}
