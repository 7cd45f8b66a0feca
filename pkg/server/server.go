package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/timeline-digest/internal/coordinator"
	"github.com/elonfeng/timeline-digest/internal/store"
	"github.com/elonfeng/timeline-digest/pkg/digest"
)

// AdminTokenHeader carries the admin token on protected routes.
const AdminTokenHeader = "X-Admin-Token"

// Coordinator starts runs and reports the last one.
type Coordinator interface {
	RunDaily(ctx context.Context, opts digest.RunOptions) (*digest.RunResult, error)
	Backfill(ctx context.Context, opts digest.RunOptions, days int) (*digest.RunResult, error)
	LastResult(ctx context.Context) (*coordinator.Snapshot, error)
}

// Reader serves stored digests.
type Reader interface {
	ListDigestDays(ctx context.Context, limit int) ([]string, error)
	GetDailyDigest(ctx context.Context, day string) (*store.DailyDigest, error)
	ListUnfilteredDays(ctx context.Context, limit int) ([]string, error)
	GetUnfilteredDay(ctx context.Context, day string) (*store.UnfilteredDay, error)
}

// Server provides the HTTP API.
type Server struct {
	coord      Coordinator
	reader     Reader
	adminToken string
	port       int
	logger     *log.Logger
	now        func() time.Time
}

// New creates a new HTTP server. With an empty adminToken every protected
// route answers 401.
func New(coord Coordinator, reader Reader, adminToken string, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		coord:      coord,
		reader:     reader,
		adminToken: adminToken,
		port:       port,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /last-run", s.requireAdmin(s.handleLastRun))
	mux.HandleFunc("POST /run", s.requireAdmin(s.handleRun))
	mux.HandleFunc("POST /backfill", s.requireAdmin(s.handleBackfill))
	mux.HandleFunc("GET /api/days", s.handleDays)
	mux.HandleFunc("GET /api/days/{day}", s.handleDay)
	mux.HandleFunc("GET /api/unfiltered", s.handleUnfilteredDays)
	mux.HandleFunc("GET /api/unfiltered/{day}", s.handleUnfilteredDay)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "tldigest",
		"now":     s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.LastResult(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "never-run"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	opts := digest.RunOptions{Source: "manual", DryRun: r.URL.Query().Get("dryRun") == "1"}
	// The run holds the lock; a dropped client must not abort it.
	res, err := s.coord.RunDaily(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	days := digest.MaxDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = n
	}
	opts := digest.RunOptions{Source: "backfill", DryRun: r.URL.Query().Get("dryRun") == "1"}
	res, err := s.coord.Backfill(context.WithoutCancel(r.Context()), opts, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.reader.ListDigestDays(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": days, "count": len(days)})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	d, err := s.reader.GetDailyDigest(r.Context(), day)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUnfilteredDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.reader.ListUnfilteredDays(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": days, "count": len(days)})
}

func (s *Server) handleUnfilteredDay(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	d, err := s.reader.GetUnfilteredDay(r.Context(), day)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func dayParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	day := r.PathValue("day")
	if !digest.ValidDay(day) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
		return "", false
	}
	return day, true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return store.DefaultListLimit
	}
	if n > 365 {
		return 365
	}
	return n
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
