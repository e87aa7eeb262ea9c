// Copyright 2026 The recsys Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the public-facing HTTP server: the prediction
// endpoint, the analyzer read paths, the trace lookup, the admin control
// plane, and the health and metrics endpoints. One route per use case,
// JSON bodies throughout.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/experiment"
	"recsys/internal/recsys/fairness"
	"recsys/internal/recsys/feedback"
	"recsys/internal/recsys/recerr"
	"recsys/internal/recsys/registry"
	"recsys/internal/recsys/serving"
	"recsys/internal/recsys/store"
	"recsys/internal/recsys/telemetry"
)

// Server handles the HTTP requests for the recommendation service.
type Server struct {
	serving    *serving.Engine
	experiment *experiment.Engine
	fairness   *fairness.Analyzer
	feedback   *feedback.Analyzer
	events     store.EventStore
	reg        registry.Registry
	adminKey   string
	log        *zap.Logger
}

// NewServer creates and configures a new API server. adminKey guards the
// /admin routes; an empty key disables them entirely.
func NewServer(
	srv *serving.Engine,
	exp *experiment.Engine,
	fair *fairness.Analyzer,
	fb *feedback.Analyzer,
	events store.EventStore,
	reg registry.Registry,
	adminKey string,
	log *zap.Logger,
) *Server {
	return &Server{
		serving:    srv,
		experiment: exp,
		fairness:   fair,
		feedback:   fb,
		events:     events,
		reg:        reg,
		adminKey:   adminKey,
		log:        log,
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /recommendations", s.handleRecommendations)
	mux.HandleFunc("GET /experiments/{id}/summary", s.handleExperimentSummary)
	mux.HandleFunc("GET /fairness", s.handleFairness)
	mux.HandleFunc("GET /feedback-loops", s.handleFeedbackLoops)
	mux.HandleFunc("GET /telemetry/conversion-funnel", s.handleConversionFunnel)
	mux.HandleFunc("GET /telemetry/item-trends", s.handleItemTrends)
	mux.HandleFunc("GET /telemetry/user-engagement", s.handleUserEngagement)
	mux.HandleFunc("GET /traces/{requestId}", s.handleTrace)
	mux.HandleFunc("GET /admin/models", s.handleListModels)
	mux.HandleFunc("POST /admin/switch-model", s.handleSwitchModel)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", telemetry.Handler())
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a taxonomy error onto an HTTP status and machine code.
func (s *Server) writeError(w http.ResponseWriter, stage string, err error) {
	telemetry.IncError(stage)
	code := recerr.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recerr.ErrValidation),
		errors.Is(err, recerr.ErrRangeTooLarge),
		errors.Is(err, recerr.ErrInvalidTarget):
		status = http.StatusBadRequest
	case errors.Is(err, recerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recerr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, recerr.ErrStoreUnavailable),
		errors.Is(err, recerr.ErrBusUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("stage", stage), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

// parseWindowHours reads ?windowHours=H, falling back to def.
func parseWindowHours(r *http.Request, def int) int {
	v := r.URL.Query().Get("windowHours")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

type recommendRequest struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("recommendations")
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		telemetry.IncError("recommendations")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "userId_required"})
		return
	}
	res, err := s.serving.Recommend(r.Context(), req.UserID, req.Limit, "")
	if err != nil {
		telemetry.IncError("recommendations")
		s.log.Error("prediction failed",
			zap.String("requestId", res.RequestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     "prediction_failed",
			RequestID: res.RequestID,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExperimentSummary(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("experiment-summary")
	if err := experiment.ValidateID(r.PathValue("id")); err != nil {
		s.writeError(w, "experiment-summary", err)
		return
	}
	sum, err := s.experiment.Summarize(r.Context(), parseWindowHours(r, experiment.DefaultWindowHours))
	if err != nil {
		s.writeError(w, "experiment-summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleFairness(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("fairness")
	rep, err := s.fairness.Evaluate(r.Context(), parseWindowHours(r, 24))
	if err != nil {
		s.writeError(w, "fairness", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleFeedbackLoops(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("feedback-loops")
	rep, err := s.feedback.Analyze(r.Context(), parseWindowHours(r, 24))
	if err != nil {
		s.writeError(w, "feedback-loops", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleConversionFunnel(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("telemetry")
	from := time.Now().Add(-time.Duration(parseWindowHours(r, 24)) * time.Hour)
	rep, err := s.events.AggregateFunnel(r.Context(), from, event.Variant(r.URL.Query().Get("variant")))
	if err != nil {
		s.writeError(w, "telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleItemTrends(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("telemetry")
	from := time.Now().Add(-time.Duration(parseWindowHours(r, 24)) * time.Hour)
	rep, err := s.events.AggregateItemTrend(r.Context(), from, r.URL.Query().Get("itemId"))
	if err != nil {
		s.writeError(w, "telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleUserEngagement(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("telemetry")
	from := time.Now().Add(-time.Duration(parseWindowHours(r, 24)) * time.Hour)
	rep, err := s.events.AggregateUserEngagement(r.Context(), from)
	if err != nil {
		s.writeError(w, "telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("traces")
	tr, err := s.reg.GetTrace(r.Context(), r.PathValue("requestId"))
	if err != nil {
		s.writeError(w, "traces", err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// authorized checks the pre-shared admin key in constant time. An empty
// configured key means the control plane is disabled.
func (s *Server) authorized(r *http.Request) bool {
	if s.adminKey == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.adminKey)) == 1
}

type modelsResponse struct {
	Models       []registry.Artifact   `json:"models"`
	ServingState registry.ServingState `json:"servingState"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("admin")
	if !s.authorized(r) {
		s.writeError(w, "admin", recerr.ErrUnauthorized)
		return
	}
	models, err := s.reg.ListArtifacts(r.Context())
	if err != nil {
		s.writeError(w, "admin", err)
		return
	}
	state, err := s.reg.GetServingState(r.Context())
	if err != nil {
		s.writeError(w, "admin", err)
		return
	}
	writeJSON(w, http.StatusOK, modelsResponse{Models: models, ServingState: state})
}

type switchModelRequest struct {
	Version string `json:"version"`
	Target  string `json:"target"`
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	telemetry.IncRequest("admin")
	if !s.authorized(r) {
		s.writeError(w, "admin", recerr.ErrUnauthorized)
		return
	}
	var req switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Version == "" {
		s.writeError(w, "admin", recerr.ErrValidation)
		return
	}
	target, err := registry.ParseTarget(req.Target)
	if err != nil {
		s.writeError(w, "admin", err)
		return
	}
	state, err := s.reg.SetServingVersion(r.Context(), req.Version, target)
	if err != nil {
		s.writeError(w, "admin", err)
		return
	}
	s.log.Info("serving version switched",
		zap.String("version", req.Version), zap.String("target", req.Target))
	writeJSON(w, http.StatusOK, state)
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", Components: map[string]string{}}
	status := http.StatusOK

	if err := s.events.Ping(ctx); err != nil {
		resp.Components["eventStore"] = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Components["eventStore"] = "ok"
	}
	if err := s.reg.Ping(ctx); err != nil {
		resp.Components["registry"] = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Components["registry"] = "ok"
	}
	writeJSON(w, status, resp)
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("api server listening", zap.String("addr", addr))
	return httpServer.ListenAndServe()
}

// NewHTTPServer builds the http.Server without starting it, so callers can
// drive graceful shutdown themselves.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
