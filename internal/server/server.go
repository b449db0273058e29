// Package server implements the crashvault HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crashvault/crashvault/internal/archive"
	"github.com/crashvault/crashvault/internal/blob"
	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/dedup"
	"github.com/crashvault/crashvault/internal/jobs"
	"github.com/crashvault/crashvault/internal/metrics"
	"github.com/crashvault/crashvault/internal/processor"
	"github.com/crashvault/crashvault/internal/staging"
)

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// uploadResponse acknowledges an accepted upload. Processing continues in
// the background; the token identifies the operation in logs and staging.
type uploadResponse struct {
	Token     string `json:"token"`
	Hash      string `json:"hash"`
	Duplicate bool   `json:"duplicate"`
}

// createDumpResponse returns the incident id, which is the dump's
// content hash. Creation is idempotent.
type createDumpResponse struct {
	DumpID  string `json:"dump_id"`
	Created bool   `json:"created"`
}

// Deps are the collaborators the server operates on.
type Deps struct {
	Catalog  catalog.Catalog
	Blobs    blob.Store
	Staging  *staging.Store
	Launcher *jobs.Launcher
	Analyzer processor.Analyzer
	Metrics  *metrics.ServerMetrics
}

// Server is the crashvault API server.
type Server struct {
	cfg  *config.ServerConfig
	mux  *http.ServeMux
	deps Deps

	gate      *dedup.Gate
	assembler *archive.Assembler
}

// NewServer creates the API server around its collaborators.
func NewServer(cfg *config.ServerConfig, deps Deps) *Server {
	if deps.Analyzer == nil {
		deps.Analyzer = processor.NoopAnalyzer{}
	}

	srv := &Server{
		cfg:  cfg,
		mux:  http.NewServeMux(),
		deps: deps,
		gate: dedup.NewGate(deps.Catalog, deps.Launcher, deps.Staging),
		assembler: &archive.Assembler{
			Blobs:          deps.Blobs,
			Staging:        deps.Staging,
			Metrics:        deps.Metrics,
			MaxConcurrency: cfg.Archive.MaxConcurrency,
		},
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("/api/v1/dumps/create", s.withAuth(s.handleCreateDump))
	s.mux.HandleFunc("/api/v1/dumps/uploads", s.withAuth(s.handleUploadDump))
	s.mux.HandleFunc("/api/v1/dumps/", s.withAuth(s.handleDumpSubresource))
	s.mux.HandleFunc("/api/v1/artifacts/uploads", s.withAuth(s.handleUploadArtifact))
	s.mux.HandleFunc("/api/v1/artifacts/index/", s.withAuth(s.handleArtifactByIndex))
	s.mux.HandleFunc("/api/v1/artifacts/", s.withAuth(s.handleArtifactDownload))
	s.mux.HandleFunc("/api/v1/client/", s.withAuth(s.handleClientTools))
	s.mux.HandleFunc("/api/v1/tools/debug", s.withAuth(s.handleDebugTools))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withAuth enforces bearer-token auth. An empty configured token
// disables the check, for development setups behind a trusted proxy.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			s.jsonError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.jsonError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.cfg.AuthToken {
			s.jsonError(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleDumpSubresource routes /api/v1/dumps/{id}/<sub> requests.
func (s *Server) handleDumpSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/dumps/")
	id, sub, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		s.jsonError(w, "dump id required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "properties":
		s.handleDumpProperties(w, r, id)
	case "artifacts/uploads":
		s.handleUploadDumpArtifact(w, r, id)
	case "manifest":
		s.handleDumpManifest(w, r, id)
	case "archive":
		s.handleDumpArchive(w, r, id)
	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// baseName extracts the lowercased final component of a client-local
// path, whichever separator convention the client machine uses.
func baseName(localPath string) string {
	p := strings.ReplaceAll(localPath, `\`, "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToLower(base)
}
