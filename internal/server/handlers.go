package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
)

type handlers struct {
	assessor Assessor
	log      *zap.Logger
}

// AssessRequest is the body of POST /v1/assess.
type AssessRequest struct {
	Lat                *float64 `json:"lat,omitempty"`
	Lon                *float64 `json:"lon,omitempty"`
	Address            string   `json:"address,omitempty"`
	Sources            []string `json:"sources,omitempty"`
	Hazards            []string `json:"hazards,omitempty"`
	IncludeProjections bool     `json:"include_projections,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	hazards, err := model.ParseHazards(req.Hazards)
	if err != nil {
		writeError(w, err)
		return
	}

	ra, err := h.assessor.Assess(r.Context(), model.Input{Lat: req.Lat, Lon: req.Lon, Address: req.Address}, orchestrator.Options{
		Sources:            req.Sources,
		IncludeProjections: req.IncludeProjections,
		HazardFilter:       hazards,
	})
	if err != nil {
		h.log.Warn("server: assessment failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ra)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	report := h.assessor.Health()
	status := http.StatusOK
	if report.Overall == orchestrator.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoDataAvailable), errors.Is(err, model.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
