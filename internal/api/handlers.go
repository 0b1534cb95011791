// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/camanchor/internal/api/middleware"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/pipeline"
	"github.com/ManuGH/camanchor/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const maxBodyBytes = 4 << 10

// StartRequest is the body of POST /recording/start.
type StartRequest struct {
	SourceURI      string `json:"sourceUri"`
	SegmentSeconds int    `json:"segmentSeconds"`
}

// ProgressResponse combines the session and the latest segment activity.
type ProgressResponse struct {
	Recording bool                  `json:"recording"`
	Session   *pipeline.SessionInfo `json:"session,omitempty"`
	pipeline.Progress
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	info, err := s.pipe.StartSession(r.Context(), req.SourceURI, req.SegmentSeconds)
	switch {
	case err == nil:
		middleware.AddSpanAttributes(r, attribute.String(telemetry.SessionIDKey, info.ID))
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, pipeline.ErrLowBalance):
		writeError(w, http.StatusBadRequest, CodeLowBalance, "balance below minimum; fund the account before recording")
	case errors.Is(err, pipeline.ErrSessionInvalid):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, pipeline.ErrBalanceUnavailable):
		logger(r).Warn().Err(err).Msg("start session: balance unavailable")
		writeError(w, http.StatusBadGateway, CodeBalanceUnavailable, "balance unavailable")
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	default:
		logger(r).Error().Err(err).Msg("start session failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to start recording")
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.pipe.StopSession(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	case errors.Is(err, pipeline.ErrNoActiveSession):
		writeError(w, http.StatusConflict, CodeNoActiveSession, err.Error())
	default:
		logger(r).Error().Err(err).Msg("stop session failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to stop recording")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipe.Stats(r.Context())
	if err != nil {
		logger(r).Error().Err(err).Msg("stats failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipe.BalanceStatus(r.Context())
	if err != nil {
		logger(r).Warn().Err(err).Msg("balance unavailable")
		writeError(w, http.StatusBadGateway, CodeBalanceUnavailable, "balance unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	resp := ProgressResponse{Progress: s.pipe.Progress()}
	if info, ok := s.pipe.Session(); ok {
		resp.Recording = true
		resp.Session = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	pins, err := s.pipe.Pins(r.Context())
	if err != nil {
		logger(r).Warn().Err(err).Msg("pin history unavailable")
		writeError(w, http.StatusBadGateway, CodeUpstream, "pin history unavailable")
		return
	}
	if pins == nil {
		pins = []pinning.Pin{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pins": pins})
}

func logger(r *http.Request) *zerolog.Logger {
	return log.FromContext(r.Context())
}
