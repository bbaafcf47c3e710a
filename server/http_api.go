// Package server exposes the expiration engine over HTTP and hosts the
// debug/metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/INLOpen/expirebin/auth"
	"github.com/INLOpen/expirebin/config"
	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/engine"
	"github.com/INLOpen/expirebin/sweep"
)

// APIServer serves the six operations under /v1.
type APIServer struct {
	server        *http.Server
	router        *mux.Router
	engine        *engine.Engine
	sweeper       *sweep.Sweeper
	jobs          *jobRegistry
	authenticator *auth.Authenticator
	defaultBins   []string
	logger        *slog.Logger
	started       bool
	mu            sync.Mutex
}

// NewAPIServer wires the engine and sweeper into an HTTP server.
// authenticator may be nil, which disables authentication.
func NewAPIServer(cfg *config.Config, eng *engine.Engine, sweeper *sweep.Sweeper, authenticator *auth.Authenticator, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &APIServer{
		router:        mux.NewRouter(),
		engine:        eng,
		sweeper:       sweeper,
		jobs:          newJobRegistry(cfg.Sweep.JobHistory),
		authenticator: authenticator,
		defaultBins:   cfg.Sweep.DefaultBins,
		logger:        logger.With("component", "APIServer"),
	}
	s.routes()

	addr := cfg.Server.ListenAddress
	if addr == "" {
		addr = ":8070"
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the handler, mainly for tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) routes() {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/records/{set}/{pk}/bins", s.requireRole(auth.RoleReader, s.handleGet)).Methods(http.MethodGet)
	api.HandleFunc("/records/{set}/{pk}/bins", s.requireRole(auth.RoleWriter, s.handlePutBatch)).Methods(http.MethodPost)
	api.HandleFunc("/records/{set}/{pk}/bins/{bin}", s.requireRole(auth.RoleWriter, s.handlePut)).Methods(http.MethodPut)
	api.HandleFunc("/records/{set}/{pk}/bins/{bin}/ttl", s.requireRole(auth.RoleReader, s.handleTTL)).Methods(http.MethodGet)
	api.HandleFunc("/records/{set}/{pk}/touch", s.requireRole(auth.RoleWriter, s.handleTouch)).Methods(http.MethodPost)
	api.HandleFunc("/sweeps", s.requireRole(auth.RoleWriter, s.handleStartSweep)).Methods(http.MethodPost)
	api.HandleFunc("/sweeps/{id}", s.requireRole(auth.RoleReader, s.handleSweepStatus)).Methods(http.MethodGet)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}

// requireRole authenticates the request via basic auth and checks the
// role. With no authenticator configured every request passes.
func (s *APIServer) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authenticator == nil {
			next(w, r)
			return
		}
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="expirebin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.authenticator.Authenticate(username, password)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !auth.Authorize(user, role) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func keyFromRequest(r *http.Request) core.Key {
	vars := mux.Vars(r)
	return core.Key{Set: vars["set"], PK: vars["pk"]}
}

type putRequest struct {
	Value core.BinValue `json:"value"`
	TTL   *int64        `json:"ttl"`
}

type putBatchEntry struct {
	Bin   string        `json:"bin"`
	Value core.BinValue `json:"value"`
	TTL   *int64        `json:"ttl,omitempty"`
}

type putBatchRequest struct {
	Entries []putBatchEntry `json:"entries"`
}

type touchEntry struct {
	Bin string `json:"bin"`
	TTL *int64 `json:"ttl,omitempty"`
}

type touchRequest struct {
	Entries []touchEntry `json:"entries"`
}

type sweepRequest struct {
	Set  string   `json:"set"`
	Bins []string `json:"bins,omitempty"`
}

func (s *APIServer) handleGet(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	var bins []string
	if names := r.URL.Query().Get("names"); names != "" {
		bins = strings.Split(names, ",")
	}
	result, err := s.engine.Get(r.Context(), key, bins...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bins": result})
}

func (s *APIServer) handlePut(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	bin := mux.Vars(r)["bin"]
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &core.ValidationError{Op: "put", Field: "body", Message: err.Error()})
		return
	}
	if req.TTL == nil {
		s.writeError(w, r, &core.ValidationError{Op: "put", Field: "ttl", Message: "ttl is required"})
		return
	}
	if err := s.engine.Put(r.Context(), key, bin, req.Value, *req.TTL); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handlePutBatch(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	var req putBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &core.ValidationError{Op: "puts", Field: "body", Message: err.Error()})
		return
	}
	entries := make([]engine.PutEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, engine.PutEntry{Bin: e.Bin, Value: e.Value, TTL: e.TTL})
	}
	if err := s.engine.PutBatch(r.Context(), key, entries); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleTouch(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &core.ValidationError{Op: "touch", Field: "body", Message: err.Error()})
		return
	}
	entries := make([]engine.TouchEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, engine.TouchEntry{Bin: e.Bin, TTL: e.TTL})
	}
	if err := s.engine.Touch(r.Context(), key, entries); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleTTL(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	bin := mux.Vars(r)["bin"]
	remaining, err := s.engine.TTL(r.Context(), key, bin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ttl": remaining})
}

func (s *APIServer) handleStartSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &core.ValidationError{Op: "clean", Field: "body", Message: err.Error()})
		return
	}
	bins := req.Bins
	if len(bins) == 0 {
		bins = s.defaultBins
	}
	// The job must outlive this request; polling happens via the
	// status endpoint.
	job, err := s.sweeper.Start(context.WithoutCancel(r.Context()), req.Set, bins...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jobs.add(job)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID().String()})
}

func (s *APIServer) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.jobs.get(id)
	if !ok {
		http.Error(w, "unknown sweep job", http.StatusNotFound)
		return
	}
	done := false
	select {
	case <-job.Done():
		done = true
	default:
	}
	counts := job.Counts()
	resp := map[string]any{
		"id":      id,
		"done":    done,
		"visited": counts.RecordsVisited,
		"removed": counts.BinsRemoved,
		"failed":  counts.RecordsFailed,
	}
	if done {
		if err := job.Err(); err != nil {
			resp["error"] = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to encode response.", "error", err)
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsValidationError(err) || core.IsUnsupportedTypeError(err):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrKeyNotFound) || errors.Is(err, core.ErrBinNotFound):
		status = http.StatusNotFound
	case core.IsTransportError(err):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed.", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

// Start runs the API server; it blocks until Stop or a listen error.
func (s *APIServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("API server listening.", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *APIServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.server.Shutdown(ctx)
}
