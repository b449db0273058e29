package server

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// supportKeyPrefix is where platform debugger bundles live in the blob
// store, alongside the content-addressed artifacts.
const supportKeyPrefix = "support/"

// handleClientTools serves the upload client scripts shipped with the
// server (e.g. crashvault.py) from the configured client directory.
func (s *Server) handleClientTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/v1/client/")
	if filename == "" {
		s.jsonError(w, "filename required", http.StatusBadRequest)
		return
	}

	// Rooted clean confines the lookup to the client directory.
	filename = strings.TrimPrefix(path.Clean("/"+filename), "/")
	if filename == "" {
		s.jsonError(w, "filename required", http.StatusBadRequest)
		return
	}

	f, err := os.Open(filepath.Join(s.cfg.ClientDir, filepath.FromSlash(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			s.jsonError(w, "client tool not found", http.StatusNotFound)
			return
		}
		s.jsonError(w, "open client tool: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		s.jsonError(w, "client tool not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(path.Base(filename)))
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	_, _ = io.Copy(w, f)
}

// handleDebugTools redirects to the platform debugger bundle for the
// requested os/distro/arch triple, stored under the support prefix as
// <os>[/<distro>][/<arch>]/dbg.zip.
func (s *Server) handleDebugTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if q.Get("os") == "" {
		s.jsonError(w, "os is required", http.StatusBadRequest)
		return
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{q.Get("os"), q.Get("distro"), q.Get("arch")} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, "dbg.zip")
	key := supportKeyPrefix + strings.Join(parts, "/")

	ctx := r.Context()
	exists, err := s.deps.Blobs.Exists(ctx, key)
	if err != nil {
		s.jsonError(w, "check blob: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
		}
		s.jsonError(w, "debug tools not found", http.StatusNotFound)
		return
	}

	grant, err := s.deps.Blobs.IssueReadGrant(ctx, key, "dbg.zip")
	if err != nil {
		s.jsonError(w, "issue read grant: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RedirectsTotal.WithLabelValues("redirected").Inc()
	}
	http.Redirect(w, r, grant.URL, http.StatusTemporaryRedirect)
}
