// Package docserver exposes a cloud.Store over HTTP so several taskmirror
// clients can share one remote document tree. The routes are the ones
// package httpstore speaks.
package docserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/httpstore"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8765).
	Addr string

	// Token, when non-empty, must be presented as a bearer token on every
	// /v1 route.
	Token string

	// Logger for request activity (default: "serve" component logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8765",
		Logger: logging.Default("serve"),
	}
}

// Server serves a cloud.Store over HTTP.
type Server struct {
	store    cloud.Store
	config   *Config
	logger   *log.Logger
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewServer creates a server for store. A nil config uses DefaultConfig.
func NewServer(store cloud.Store, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logging.Default("serve")
	}
	return &Server{
		store:  store,
		config: config,
		logger: config.Logger,
	}, nil
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/users/{uid}/{kind}", s.auth(s.handleList))
	mux.HandleFunc("POST /v1/users/{uid}/{kind}", s.auth(s.handleAdd))
	mux.HandleFunc("DELETE /v1/users/{uid}/{kind}/{id}", s.auth(s.handleDelete))
	mux.HandleFunc("GET /v1/users/{uid}/manifests/{kind}", s.auth(s.handleGetManifest))
	mux.HandleFunc("PUT /v1/users/{uid}/manifests/{kind}", s.auth(s.handlePutManifest))
	return mux
}

// Start begins listening in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("document server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	s.logger.Info("document server stopped")
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.config.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, httpstore.HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, httpstore.HealthResponse{Status: "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	uid, kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	docs, err := s.store.List(r.Context(), uid, kind)
	if err != nil {
		s.storeError(w, "list", err)
		return
	}

	resp := httpstore.ListResponse{Documents: make([]httpstore.Document, 0, len(docs))}
	for _, d := range docs {
		data, err := json.Marshal(d.Record)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Documents = append(resp.Documents, httpstore.Document{ID: d.ID, Data: data})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	uid, kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	rec, err := schema.DecodeRecord(kind, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.Add(r.Context(), uid, kind, rec)
	if err != nil {
		s.storeError(w, "add", err)
		return
	}
	s.logger.Debug("document added", "user", uid, "kind", kind, "id", id)
	writeJSON(w, http.StatusCreated, httpstore.AddResponse{ID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	uid, kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if err := s.store.Delete(r.Context(), uid, kind, id); err != nil {
		s.storeError(w, "delete", err)
		return
	}
	s.logger.Debug("document deleted", "user", uid, "kind", kind, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	uid, kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	ms, ok := s.store.(cloud.ManifestStore)
	if !ok {
		writeError(w, http.StatusNotFound, "manifests not supported")
		return
	}

	m, err := ms.Manifest(r.Context(), uid, kind)
	if err != nil {
		s.storeError(w, "read manifest", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	uid, kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	ms, ok := s.store.(cloud.ManifestStore)
	if !ok {
		writeError(w, http.StatusNotImplemented, "manifests not supported")
		return
	}

	var m cloud.Manifest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid manifest: "+err.Error())
		return
	}

	if err := ms.PutManifest(r.Context(), uid, kind, m); err != nil {
		s.storeError(w, "write manifest", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps a store failure onto an HTTP status.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, cloud.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cloud.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("store "+op+" failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func pathKind(w http.ResponseWriter, r *http.Request) (string, schema.Kind, bool) {
	uid := r.PathValue("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return "", "", false
	}
	kind, err := schema.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", "", false
	}
	return uid, kind, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, httpstore.ErrorResponse{Error: msg})
}
