// Package api exposes the target management and status endpoints over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockwatch/internal/engine"
	"stockwatch/internal/model"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
)

const historyLimit = 50

// Server serves the HTTP API.
type Server struct {
	engine *engine.Engine
	sched  *scheduler.Scheduler
	store  storage.Storage
	log    *slog.Logger
	srv    *http.Server
}

// New creates a Server listening on addr.
func New(addr string, eng *engine.Engine, sched *scheduler.Scheduler, store storage.Storage, log *slog.Logger) *Server {
	s := &Server{engine: eng, sched: sched, store: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.handleListTargets)
			r.Post("/", s.handleAddTarget)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTarget)
				r.Delete("/", s.handleDeleteTarget)
				r.Post("/toggle", s.handleToggleTarget)
				r.Post("/check", s.handleCheckTarget)
				r.Get("/history", s.handleHistory)
				r.Get("/notifications", s.handleNotifications)
			})
		})
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info("http api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.StatusSummary(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if targets == nil {
		targets = []model.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

type addTargetRequest struct {
	URL             string   `json:"url"`
	Name            string   `json:"name"`
	Kind            string   `json:"kind"`
	IntervalSeconds int      `json:"interval_seconds"`
	TargetSizes     []string `json:"target_sizes"`
	TargetColors    []string `json:"target_colors"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var req addTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	if req.URL == "" {
		s.fail(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	target := &model.Target{
		URL:             req.URL,
		Name:            req.Name,
		Kind:            model.AdapterKind(req.Kind),
		IntervalSeconds: req.IntervalSeconds,
		IsActive:        true,
		TargetSizes:     req.TargetSizes,
		TargetColors:    req.TargetColors,
	}
	existing, err := s.engine.AddTarget(r.Context(), target)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if existing {
		writeJSON(w, http.StatusOK, target)
		return
	}

	// Seed the state right away so the summary shows the real status
	// instead of unknown until the first tick.
	if summary, err := s.sched.TriggerNow(r.Context(), *target); err != nil {
		s.log.Warn("initial check skipped", "target_id", target.ID, "error", err)
	} else if !summary.Success {
		s.log.Warn("initial check failed", "target_id", target.ID, "error", summary.ErrorMessage)
	}
	s.sched.Schedule(*target)

	writeJSON(w, http.StatusCreated, target)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	s.sched.Unschedule(target.ID)
	if err := s.engine.RemoveTarget(r.Context(), target.ID); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	updated, err := s.engine.ToggleActive(r.Context(), target.ID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if updated.IsActive {
		s.sched.Schedule(*updated)
	} else {
		s.sched.Unschedule(updated.ID)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCheckTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	summary, err := s.sched.TriggerNow(r.Context(), *target)
	if err != nil {
		if errors.Is(err, scheduler.ErrCheckInProgress) {
			s.fail(w, http.StatusConflict, err)
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	checks, err := s.store.ListChecks(r.Context(), target.ID, historyLimit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if checks == nil {
		checks = []model.CheckLog{}
	}
	writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	target, ok := s.lookupTarget(w, r)
	if !ok {
		return
	}
	recs, err := s.store.ListNotifications(r.Context(), target.ID, historyLimit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []model.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) lookupTarget(w http.ResponseWriter, r *http.Request) (*model.Target, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid target id"))
		return nil, false
	}
	target, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		s.fail(w, http.StatusNotFound, errors.New("target not found"))
		return nil, false
	}
	return target, true
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
