// Package api exposes the worker's HTTP surface: the realtime upgrade
// endpoint, health, metrics and alert lifecycle actions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/septivank/machine-telemetry-worker/internal/alert"
	"go.uber.org/zap"
)

// AlertService applies alert lifecycle transitions
type AlertService interface {
	Get(ctx context.Context, id int64) (*alert.Alert, error)
	Acknowledge(ctx context.Context, id int64, userID string) (*alert.Alert, error)
	Resolve(ctx context.Context, id int64, userID, notes string) (*alert.Alert, error)
}

// DetectorState resets per-machine detection state
type DetectorState interface {
	Forget(machineID int64) int
	KeyCount() int
}

// ConnectionStats reports realtime fan-out state
type ConnectionStats interface {
	ClientCount() int
	WatchedMachines() []int64
}

// Pinger checks a backing dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerState reports whether the message broker connection is gone
type BrokerState interface {
	IsClosed() bool
}

// Handler serves the REST endpoints
type Handler struct {
	alerts      AlertService
	detector    DetectorState
	connections ConnectionStats
	db          Pinger
	broker      BrokerState
	logger      *zap.Logger
}

// NewHandler creates the REST handler. db and broker may be nil.
func NewHandler(
	alerts AlertService,
	detector DetectorState,
	connections ConnectionStats,
	db Pinger,
	broker BrokerState,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		alerts:      alerts,
		detector:    detector,
		connections: connections,
		db:          db,
		broker:      broker,
		logger:      logger,
	}
}

type acknowledgeRequest struct {
	UserID string `json:"user_id"`
}

type resolveRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes"`
}

// Health reports liveness plus a few fan-out counters
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":           "ok",
		"connections":      h.connections.ClientCount(),
		"watched_machines": len(h.connections.WatchedMachines()),
		"detector_keys":    h.detector.KeyCount(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check: database unreachable", zap.Error(err))
			body["status"] = "degraded"
			body["database"] = "unreachable"
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}

	if h.broker != nil {
		if h.broker.IsClosed() {
			h.logger.Warn("health check: broker connection closed")
			body["status"] = "degraded"
			body["broker"] = "closed"
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["broker"] = "ok"
	}

	respondJSON(w, http.StatusOK, body)
}

// GetAlert returns one alert
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	a, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		h.respondAlertError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// AcknowledgeAlert moves an open alert to acknowledged
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	a, err := h.alerts.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		h.respondAlertError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ResolveAlert moves an open or acknowledged alert to resolved
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	a, err := h.alerts.Resolve(r.Context(), id, req.UserID, req.Notes)
	if err != nil {
		h.respondAlertError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ResetDetector drops all detection state of a machine, e.g. after
// maintenance changed its normal operating range.
func (h *Handler) ResetDetector(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(w, r, "machineID")
	if !ok {
		return
	}

	removed := h.detector.Forget(machineID)
	h.logger.Info("detector state reset",
		zap.Int64("machine_id", machineID),
		zap.Int("keys_removed", removed))
	respondJSON(w, http.StatusOK, map[string]any{
		"machine_id":   machineID,
		"keys_removed": removed,
	})
}

func (h *Handler) respondAlertError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, alert.ErrNotFound) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	h.logger.Error("alert request failed", zap.Error(err), zap.Int64("alert_id", id))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
