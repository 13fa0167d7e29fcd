// Package server exposes the session operations over HTTP as JSON
// endpoints. It is a thin ingress layer: request decoding, error-to-status
// mapping, and nothing else — all behavior lives in the session and engine
// packages.
package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dbglass/dbglass/internal/config"
	"github.com/dbglass/dbglass/internal/engine"
	"github.com/dbglass/dbglass/internal/errs"
	"github.com/dbglass/dbglass/internal/logger"
	"github.com/dbglass/dbglass/internal/session"
)

// Server wires the session to an HTTP router.
type Server struct {
	sess    *session.Session
	log     *logger.Logger
	remotes config.RemoteDefaults
}

// New returns a Server around sess.
func New(sess *session.Session, log *logger.Logger, remotes config.RemoteDefaults) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{sess: sess, log: log, remotes: remotes}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Route("/api", func(r chi.Router) {
		r.Post("/load", s.handleLoad)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/export", s.handleExport)

		r.Get("/tables", s.handleListTables)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/columns", s.handleListColumns)
			r.Get("/rows", s.handleGetRows)
			r.Put("/rows", s.handleUpdateRow)
			r.Post("/rows/delete", s.handleDeleteRows)
		})

		r.Post("/query", s.handleQuery)
		r.Post("/script", s.handleScript)
	})

	return r
}

// --- lifecycle handlers ---

type loadRequest struct {
	Data       string `json:"data"` // base64-encoded database bytes; empty creates a fresh database
	SourcePath string `json:"sourcePath"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !s.decode(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "data is not valid base64", err))
		return
	}

	if err := s.sess.LoadDatabase(r.Context(), data, req.SourcePath); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"loaded": true})
}

type connectRequest struct {
	Backend session.Backend `json:"backend"`
	engine.RemoteConfig
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}

	cfg := req.RemoteConfig
	if cfg.MaxConns == 0 {
		cfg.MaxConns = s.remotes.MaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = s.remotes.MinConns
	}
	cfg.ConnectTimeout = s.remotes.ConnectTimeout.Std()
	cfg.MaxConnLifetime = s.remotes.MaxConnLifetime.Std()
	cfg.MaxConnIdleTime = s.remotes.MaxConnIdleTime.Std()

	if err := s.sess.Connect(r.Context(), req.Backend, &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Disconnect(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.sess.ExportBytes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// --- browsing handlers ---

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.sess.ListTables(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := s.sess.ListColumns(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleGetRows(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	result, err := s.sess.GetRows(r.Context(), chi.URLParam(r, "table"), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// --- execution handlers ---

type queryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}

	report, err := s.sess.RunQuery(r.Context(), req.SQL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type scriptRequest struct {
	// Script is split on the statement terminator; Statements, when set,
	// is used as-is and wins over Script.
	Script        string   `json:"script"`
	Statements    []string `json:"statements"`
	Transactional bool     `json:"transactional"`
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if !s.decode(w, r, &req) {
		return
	}

	statements := req.Statements
	if len(statements) == 0 {
		statements = engine.SplitStatements(req.Script)
	}

	report, err := s.sess.RunScript(r.Context(), statements, req.Transactional)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- mutation handlers ---

type updateRowRequest struct {
	OldRow engine.Row `json:"oldRow"`
	NewRow engine.Row `json:"newRow"`
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	var req updateRowRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.sess.UpdateRow(r.Context(), chi.URLParam(r, "table"), req.OldRow, req.NewRow); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

type deleteRowsRequest struct {
	PKColumn string `json:"pkColumn"`
	IDs      []any  `json:"ids"`
}

func (s *Server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	var req deleteRowsRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.sess.DeleteRows(r.Context(), chi.URLParam(r, "table"), req.PKColumn, req.IDs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- plumbing ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warnf("failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps the error taxonomy to HTTP statuses: validation problems
// are the client's fault, connectivity problems mean "reconnect", and
// query failures are reported inline for the caller to render.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case errs.ErrKindInvalidInput, errs.ErrKindQueryFailed:
		status = http.StatusBadRequest
	case errs.ErrKindNotFound:
		status = http.StatusNotFound
	case errs.ErrKindConnectionFailed:
		status = http.StatusServiceUnavailable
	case errs.ErrKindTimeout:
		status = http.StatusGatewayTimeout
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

// requestLog logs one line per request with method, path, status, and
// duration.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Logger().
			Info("request")
	})
}
