// Package api serves the observability surface over HTTP+JSON: run
// history, dead letters, per-agent counts, and manual retries.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revohq/revoflow/internal/auth"
	"github.com/revohq/revoflow/internal/engine"
	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/runs"
	"github.com/revohq/revoflow/internal/stages"
	"github.com/revohq/revoflow/internal/tracing"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 200
	defaultDLQLimit  = 100
	maxDLQLimit      = 500
)

// Server exposes run and dead-letter state for operators.
type Server struct {
	runs      *runs.Registry
	engine    *engine.Engine
	validator *auth.Validator
	logger    *logging.Logger

	// Health answers GET /healthz. Defaults to always-ok; the worker
	// swaps in its database and nsqd checks.
	Health http.Handler

	// Metrics serves GET /metrics. Defaults to the global Prometheus
	// handler; the worker injects the handler for its own registry.
	Metrics http.Handler

	// Guard backs the manual deal-transition route. Left nil, the route
	// answers 503.
	Guard *stages.Guard
}

func NewServer(runReg *runs.Registry, eng *engine.Engine, validator *auth.Validator) *Server {
	return &Server{
		runs:      runReg,
		engine:    eng,
		validator: validator,
		logger:    logging.New("revoflow-api"),
		Health: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		}),
		Metrics: promhttp.Handler(),
	}
}

// Handler builds the route table. Every /v1 route sits behind the JWT
// middleware; scopes are enforced per route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.Health.ServeHTTP(w, r)
	})
	mux.Handle("GET /metrics", s.Metrics)
	mux.HandleFunc("GET /v1/runs", auth.RequireScope(auth.ScopeRunsRead, s.listRuns))
	mux.HandleFunc("GET /v1/runs/{id}", auth.RequireScope(auth.ScopeRunsRead, s.getRun))
	mux.HandleFunc("POST /v1/runs/{id}/retry", auth.RequireScope(auth.ScopeRunsRetry, s.retryRun))
	mux.HandleFunc("GET /v1/deadletters", auth.RequireScope(auth.ScopeLogsRead, s.listDeadLetters))
	mux.HandleFunc("GET /v1/metrics/agents", auth.RequireScope(auth.ScopeRunsRead, s.agentMetrics))
	mux.HandleFunc("POST /v1/deals/{id}/transition", auth.RequireScope(auth.ScopeDealsWrite, s.transitionDeal))
	return s.validator.Middleware(mux)
}

type runsPage struct {
	Items  []runs.Record `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRunsLimit, maxRunsLimit)
	offset := queryInt(r, "offset", 0, 1<<30)

	all := s.runs.List()
	// Most recent first.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	page := runsPage{Items: []runs.Record{}, Total: len(all), Limit: limit, Offset: offset}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		page.Items = all[offset:end]
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec := s.runs.Get(r.PathValue("id"))
	if rec == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// retryRun re-executes the task of a recorded run under a fresh run id.
// The original record is left untouched.
func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rec := s.runs.Get(runID)
	if rec == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	ctx, span := tracing.StartSpan(r.Context(), "api.retry_run")
	defer span.End()

	claims, _ := auth.ClaimsFromContext(ctx)
	result, err := s.engine.ExecuteTask(ctx, engine.Request{
		TaskKey:  rec.TaskKey,
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.WithContext(ctx).
		WithRun(result.RunID).
		WithTask(rec.TaskKey).
		WithField("source_run_id", runID).
		Info("api.run_retried")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultDLQLimit, maxDLQLimit)

	entries := s.engine.DeadLetters().List()
	// The ring appends in arrival order; reverse for most recent first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"total": s.engine.DeadLetters().Len(),
	})
}

type agentStats struct {
	AgentName string `json:"agent_name"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

func (s *Server) agentMetrics(w http.ResponseWriter, r *http.Request) {
	byKey := make(map[string]*agentStats)
	for _, rec := range s.runs.List() {
		st, ok := byKey[rec.TaskKey]
		if !ok {
			st = &agentStats{AgentName: rec.TaskKey}
			byKey[rec.TaskKey] = st
		}
		st.Total++
		switch rec.Status {
		case runs.StatusQueued:
			st.Queued++
		case runs.StatusRunning:
			st.Running++
		case runs.StatusSucceeded:
			st.Succeeded++
		case runs.StatusFailed:
			st.Failed++
		}
	}

	out := make([]agentStats, 0, len(byKey))
	for _, st := range byKey {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type transitionRequest struct {
	NewStage string `json:"new_stage"`
	Reason   string `json:"reason"`
}

// transitionDeal moves a deal to a new stage through the guard. A
// rejected edge answers 409 so callers can tell a business-rule refusal
// from a missing deal.
func (s *Server) transitionDeal(w http.ResponseWriter, r *http.Request) {
	if s.Guard == nil {
		writeError(w, http.StatusServiceUnavailable, "stage transitions not available")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewStage == "" {
		writeError(w, http.StatusBadRequest, "body requires new_stage")
		return
	}

	dealID := r.PathValue("id")
	claims, _ := auth.ClaimsFromContext(r.Context())
	actor := claims.Subject
	if actor == "" {
		actor = "api"
	}

	moved, err := s.Guard.Transition(r.Context(), dealID, req.NewStage, actor, req.Reason)
	if errors.Is(err, stages.ErrNotFound) {
		writeError(w, http.StatusNotFound, "deal not found")
		return
	}
	if errors.Is(err, stages.ErrContention) {
		writeError(w, http.StatusConflict, "deal is changing concurrently, retry")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !moved {
		writeError(w, http.StatusConflict, "transition rejected")
		return
	}

	s.logger.WithContext(r.Context()).
		WithDeal(dealID).
		WithField("new_stage", req.NewStage).
		Info("api.deal_transitioned")
	writeJSON(w, http.StatusOK, map[string]any{
		"deal_id":   dealID,
		"new_stage": req.NewStage,
		"moved":     true,
	})
}

func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
