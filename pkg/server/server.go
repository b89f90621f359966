// Package server exposes the vault retrieval API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/contextd/datavault/pkg/queryengine"
	"github.com/contextd/datavault/pkg/vault"
)

// Server hosts GET /data-vault/{handleID} and a health endpoint.
type Server struct {
	store      *vault.Store
	backend    vault.Backend
	httpServer *http.Server
	logger     *slog.Logger
}

// RetrieveResponse is the success body of the retrieval endpoint.
type RetrieveResponse struct {
	Success  bool                    `json:"success"`
	HandleID string                  `json:"handleId"`
	RowCount int                     `json:"rowCount"`
	Data     []vault.Row             `json:"data"`
	Metadata *vault.MetadataEnvelope `json:"metadata"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Hint    string `json:"hint,omitempty"`
}

// New builds the server. backend is only used for health checks.
func New(addr string, store *vault.Store, backend vault.Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{store: store, backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/data-vault/{handleID}", s.handleRetrieve)
	r.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("retrieval API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("retrieval API server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	handleID := chi.URLParam(r, "handleID")
	principal := r.Header.Get("x-user-did")
	token := r.Header.Get("x-data-token")

	if principal == "" || token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: "x-user-did and x-data-token headers are required",
		})
		return
	}

	rows, metadata, err := s.store.GetWithMetadata(r.Context(), handleID, principal, token)
	if err != nil {
		s.logger.Error("vault retrieval failed",
			"handle", handleID,
			"principal", vault.SafePrincipal(principal),
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "the vault backend is unavailable",
		})
		return
	}
	if rows == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: fmt.Sprintf("no data found for handle %s", handleID),
			Hint:  queryengine.NotFoundHint,
		})
		return
	}

	s.logger.Info("vault data retrieved",
		"handle", handleID,
		"rows", len(rows),
		"principal", vault.SafePrincipal(principal))

	writeJSON(w, http.StatusOK, RetrieveResponse{
		Success:  true,
		HandleID: handleID,
		RowCount: len(rows),
		Data:     rows,
		Metadata: metadata,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
