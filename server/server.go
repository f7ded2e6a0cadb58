// Package server exposes the memory service over HTTP with JSON bodies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/pipeline"
	"github.com/DPamK/MemoryLoom/retrieval"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server wires the ingestion, storage and retrieval components behind the
// HTTP surface.
type Server struct {
	store     *memory.Store
	ingestor  *pipeline.Ingestor
	fuser     *retrieval.Fuser
	logger    zerolog.Logger
	httpServe *http.Server
}

// New creates a Server listening on addr.
func New(addr string, store *memory.Store, ingestor *pipeline.Ingestor, fuser *retrieval.Fuser, logger zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		ingestor: ingestor,
		fuser:    fuser,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /record", s.handleRecord)
	mux.HandleFunc("POST /longterm", s.handleLongTerm)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /users/", s.handleCreateUser)
	mux.HandleFunc("GET /users/{username}/exists", s.handleUserExists)

	s.httpServe = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServe.Addr).Msg("HTTP server listening")
	if err := s.httpServe.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServe.Shutdown(ctx)
}

// Handler exposes the configured handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServe.Handler
}

// withRequestID tags every request with a uuid and logs it on completion.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Handled request")
	})
}

type recordRequest struct {
	Context  string `json:"context"`
	Username string `json:"username"`
}

type longTermRequest struct {
	MemoryText string `json:"memory_text"`
	Username   string `json:"username"`
}

type queryRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"topk"`
	Username string `json:"username"`
}

type userCreateRequest struct {
	Username string `json:"username"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Context) == "" {
		s.writeError(w, http.StatusBadRequest, "username and context are required")
		return
	}

	if _, err := s.ingestor.IngestRecord(r.Context(), req.Username, req.Context); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "recorded"})
}

func (s *Server) handleLongTerm(w http.ResponseWriter, r *http.Request) {
	var req longTermRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.MemoryText) == "" {
		s.writeError(w, http.StatusBadRequest, "username and memory_text are required")
		return
	}

	if _, err := s.store.AppendLongTermFact(r.Context(), req.Username, req.MemoryText); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "stored"})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "username and query are required")
		return
	}

	exists, err := s.store.UserExists(r.Context(), req.Username)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !exists {
		s.writeStoreError(w, memory.ErrUnknownUser)
		return
	}

	resp, err := s.fuser.Retrieve(r.Context(), req.Username, req.Query, req.TopK)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.Username).Msg("Retrieval failed")
		s.writeError(w, http.StatusBadGateway, "retrieval scoring unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		s.writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	if _, err := s.store.CreateUser(r.Context(), req.Username); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "created"})
}

func (s *Server) handleUserExists(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	exists, err := s.store.UserExists(r.Context(), username)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exists)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrUnknownUser):
		s.writeError(w, http.StatusNotFound, "unknown user")
	case errors.Is(err, memory.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Store operation failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
