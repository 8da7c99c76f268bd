// Package api exposes the HTTP endpoints. Every handler that touches the
// database runs inside withLease, which leases exactly one connection before
// the handler starts and returns it when the request finishes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/config"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/ingest"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

// UserStore is the single-row CRUD the users endpoints need.
type UserStore interface {
	InsertUser(ctx context.Context, q database.Querier, u *model.UserRecord) (int64, error)
	FindUserByID(ctx context.Context, q database.Querier, id int64) (*model.UserRecord, error)
}

// CompositionStore is the single-row CRUD the compositions endpoints need.
type CompositionStore interface {
	InsertComposition(ctx context.Context, q database.Querier, c *model.CompositionRecord) (int64, error)
	FindCompositionByID(ctx context.Context, q database.Querier, id int64) (*model.CompositionRecord, error)
}

// Server exposes HTTP endpoints for uploads, downloads and the small user and
// composition tables.
type Server struct {
	cfg          *config.Config
	log          *zap.Logger
	pool         *database.Pool
	coord        *ingest.Coordinator
	users        UserStore
	compositions CompositionStore

	once    sync.Once
	handler http.Handler
}

// New constructs a Server.
func New(cfg *config.Config, log *zap.Logger, pool *database.Pool, coord *ingest.Coordinator, users UserStore, compositions CompositionStore) *Server {
	return &Server{
		cfg:          cfg,
		log:          log,
		pool:         pool,
		coord:        coord,
		users:        users,
		compositions: compositions,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", s.handleHealth)
		mux.HandleFunc("POST /upload", s.withLease(s.handleUpload))
		mux.HandleFunc("GET /audio/{id}", s.withLease(s.handleAudio))
		mux.HandleFunc("GET /audio/{id}/metadata", s.withLease(s.handleAudioMetadata))
		mux.HandleFunc("POST /users", s.withLease(s.handleCreateUser))
		mux.HandleFunc("GET /users/{id}", s.withLease(s.handleGetUser))
		mux.HandleFunc("POST /compositions", s.withLease(s.handleCreateComposition))
		mux.HandleFunc("GET /compositions/{id}", s.withLease(s.handleGetComposition))
		s.handler = corsMiddleware(loggingMiddleware(s.log, recoverMiddleware(s.log, mux)))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type leasedHandler func(w http.ResponseWriter, r *http.Request, q database.Querier)

// withLease acquires the request's connection up front. An exhausted pool is
// answered with 503 before the handler runs.
func (s *Server) withLease(h leasedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lease, err := s.pool.Acquire(r.Context())
		if err != nil {
			s.respondError(w, err)
			return
		}
		defer lease.Release()
		h(w, r, lease)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pool":   s.pool.Stats(),
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound.Wrap(apperr.ErrNotFound)
	}
	return id, nil
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case status >= http.StatusInternalServerError:
		s.log.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": apperr.Message(err)})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
