package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/source"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const maxRequestBytes = 8 << 20

type Runner interface {
	Run(ctx context.Context, doc source.Document, opts extractor.Options) (processor.Report, error)
}

type RunReader interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRow, error)
	RunRecords(ctx context.Context, runID uuid.UUID) ([]extractor.NormalizedRecord, error)
}

type Deps struct {
	Runner   Runner
	Runs     RunReader
	Provider string
	Analyzer bool
	APIToken string
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	http   *http.Server
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/scribe/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(deps.APIToken))
		r.Post("/api/v1/extract", s.extract)
		r.Get("/api/v1/runs", s.listRuns)
		r.Get("/api/v1/runs/{runID}/records", s.runRecords)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":      "scribe",
		"provider":   s.deps.Provider,
		"configured": s.deps.Analyzer,
	})
}

type extractRequest struct {
	LessonMeta extractor.LessonMeta `json:"lesson_meta"`
	Transcript string               `json:"transcript"`
	Options    json.RawMessage      `json:"options,omitempty"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.LessonMeta.LessonID == "" {
		writeError(w, http.StatusBadRequest, "lesson_meta.lesson_id is required")
		return
	}
	opts, err := extractor.DecodeOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.deps.Runner.Run(r.Context(), source.Document{Meta: req.LessonMeta, Transcript: req.Transcript}, opts)
	if err != nil {
		// The client went away; the partial result is still well-formed.
		slog.Warn("extract request cancelled", "lesson_id", req.LessonMeta.LessonID, "error", err)
	}
	if report.RunID != "" {
		w.Header().Set("X-Scribe-Run-ID", report.RunID)
	}
	writeJSON(w, http.StatusOK, report.Result)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history requires DATABASE_URL")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) runRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history requires DATABASE_URL")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	recs, err := s.deps.Runs.RunRecords(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run records: "+err.Error())
		return
	}
	if recs == nil {
		recs = []extractor.NormalizedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "records": recs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
