package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 10

var errBadVisibility = errors.New(`body must be {"state":"visible"|"hidden"}`)

// Controller is the part of the refresh controller the HTTP API serves.
type Controller interface {
	Summary() (service.Summary, bool)
	Status() service.Status
	Refresh(ctx context.Context) error
}

// Handlers provides the dashboard HTTP endpoints.
type Handlers struct {
	controller Controller
	visibility service.Broadcaster
	updates    service.Subscriber
	logger     *zap.Logger
}

// NewHandlers creates the HTTP handlers. visibility receives foreground pings and updates is
// subscribed to by live-update streams; either may be nil.
func NewHandlers(controller Controller, visibility service.Broadcaster, updates service.Subscriber, logger *zap.Logger) *Handlers {
	if controller == nil {
		panic("nil Controller provided to NewHandlers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		controller: controller,
		visibility: visibility,
		updates:    updates,
		logger:     logger.Named("http"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// liveSignals is the signal payload pushed to dashboards on every publish.
type liveSignals struct {
	Summary *service.Summary   `json:"summary,omitempty"`
	Status  service.Status     `json:"status"`
	KPIs    []service.KPIDelta `json:"kpis,omitempty"`
}

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.controller.Summary()
	if !ok {
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: h.unavailableReason()})
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.controller.Status())
}

// GetKPIs returns each KPI card with its week-over-week change.
func (h *Handlers) GetKPIs(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.controller.Summary()
	if !ok {
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: h.unavailableReason()})
		return
	}
	h.writeJSON(w, http.StatusOK, service.KPIDeltas(summary))
}

// PostRefresh runs one refresh and responds with the resulting status.
func (h *Handlers) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Refresh(r.Context()); err != nil {
		h.logger.Warn("manual refresh failed", zap.Error(err))
		h.writeJSON(w, http.StatusBadGateway, h.controller.Status())
		return
	}
	h.writeJSON(w, http.StatusOK, h.controller.Status())
}

// PostVisibility forwards a foreground ping to the refresh loop. Hidden pings are accepted and ignored.
func (h *Handlers) PostVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadVisibility.Error()})
		return
	}

	switch body.State {
	case "visible":
		if h.visibility != nil {
			h.visibility.Broadcast()
		}
		w.WriteHeader(http.StatusAccepted)
	case "hidden":
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadVisibility.Error()})
	}
}

// Updates is the long-lived SSE endpoint. It sends the current state, then re-sends it on every
// publish until the client goes away.
func (h *Handlers) Updates(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	var updates chan struct{}
	if h.updates != nil {
		updates = h.updates.Subscribe()
		defer h.updates.Unsubscribe(updates)
	}

	if err := h.sendSignals(sse); err != nil {
		_ = sse.ConsoleError(err)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := h.sendSignals(sse); err != nil {
				_ = sse.ConsoleError(err)
			}
		}
	}
}

func (h *Handlers) sendSignals(sse *datastar.ServerSentEventGenerator) error {
	signals := liveSignals{Status: h.controller.Status()}
	if summary, ok := h.controller.Summary(); ok {
		signals.Summary = &summary
		signals.KPIs = service.KPIDeltas(summary)
	}
	return sse.MarshalAndPatchSignals(signals)
}

func (h *Handlers) unavailableReason() string {
	if st := h.controller.Status(); st.Error != "" {
		return st.Error
	}
	return "summary not loaded yet"
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}
