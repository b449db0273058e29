package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/ident"
)

// manifestResponse is the full record of one crash incident.
type manifestResponse struct {
	Dump       *catalog.Dump     `json:"dump"`
	Properties map[string]string `json:"properties,omitempty"`
	Artifacts  []manifestEntry   `json:"artifacts"`
}

// manifestEntry is one artifact link, enriched with the committed
// artifact record when the link has resolved.
type manifestEntry struct {
	LocalPath string            `json:"local_path"`
	Hash      string            `json:"hash,omitempty"`
	Artifact  *catalog.Artifact `json:"artifact,omitempty"`
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hash := strings.TrimPrefix(r.URL.Path, "/api/v1/artifacts/")
	if !ident.ValidHash(hash) {
		s.jsonError(w, "invalid content hash", http.StatusBadRequest)
		return
	}

	artifact, err := s.deps.Catalog.FindArtifact(r.Context(), ident.NormalizeHash(hash))
	if err != nil {
		s.jsonError(w, "lookup artifact: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.redirectToArtifact(w, r, artifact)
}

// handleArtifactByIndex resolves a debug-index key (everything after the
// prefix, slashes included) to its artifact and redirects.
func (s *Server) handleArtifactByIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/artifacts/index/")
	if key == "" {
		s.jsonError(w, "index key required", http.StatusBadRequest)
		return
	}

	artifact, err := s.deps.Catalog.FindArtifactByIndex(r.Context(), key)
	if err != nil {
		s.jsonError(w, "lookup index: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.redirectToArtifact(w, r, artifact)
}

// redirectToArtifact issues a time-windowed read grant for the artifact's
// blob and answers with a 307. A nil artifact, or a catalog row whose
// blob has gone missing, is a plain 404.
func (s *Server) redirectToArtifact(w http.ResponseWriter, r *http.Request, artifact *catalog.Artifact) {
	ctx := r.Context()

	if artifact == nil {
		s.redirectNotFound(w)
		return
	}

	exists, err := s.deps.Blobs.Exists(ctx, artifact.StorageKey)
	if err != nil {
		s.jsonError(w, "check blob: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		log.Warn().Str("hash", artifact.Hash).Str("key", artifact.StorageKey).
			Msg("catalog row without blob, answering not found")
		s.redirectNotFound(w)
		return
	}

	grant, err := s.deps.Blobs.IssueReadGrant(ctx, artifact.StorageKey, artifact.FileName)
	if err != nil {
		s.jsonError(w, "issue read grant: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RedirectsTotal.WithLabelValues("redirected").Inc()
	}
	w.Header().Set("X-Artifact-Filename", artifact.FileName)
	http.Redirect(w, r, grant.URL, http.StatusTemporaryRedirect)
}

func (s *Server) redirectNotFound(w http.ResponseWriter) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
	}
	s.jsonError(w, "artifact not found", http.StatusNotFound)
}

func (s *Server) handleDumpManifest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	dump, links, ok := s.loadDump(ctx, w, id)
	if !ok {
		return
	}

	props, err := s.deps.Catalog.DumpProperties(ctx, id)
	if err != nil {
		s.jsonError(w, "load properties: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := manifestResponse{Dump: dump, Properties: props, Artifacts: make([]manifestEntry, 0, len(links))}
	for _, link := range links {
		entry := manifestEntry{LocalPath: link.LocalPath, Hash: link.Hash}
		if link.Resolved() {
			artifact, err := s.deps.Catalog.FindArtifact(ctx, link.Hash)
			if err != nil {
				s.jsonError(w, "load artifact: "+err.Error(), http.StatusInternalServerError)
				return
			}
			entry.Artifact = artifact
		}
		resp.Artifacts = append(resp.Artifacts, entry)
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleDumpArchive(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	dump, links, ok := s.loadDump(ctx, w, id)
	if !ok {
		return
	}

	start := time.Now()
	out, entries, err := s.assembler.Assemble(ctx, dump, links)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away mid-assembly; nothing left to answer.
			return
		}
		s.jsonError(w, "assemble archive: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Close()

	name := dump.DisplayName
	if name == "" {
		name = dump.ID
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	if fi, err := out.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	if _, err := io.Copy(w, out.File); err != nil {
		log.Debug().Err(err).Str("dump", id).Msg("archive download aborted")
		return
	}

	log.Info().Str("dump", id).Int("entries", entries).
		Dur("took", time.Since(start)).Msg("archive served")
}

// loadDump fetches the dump and its artifact links, answering 400 for an
// unknown incident. Reports whether the caller may proceed.
func (s *Server) loadDump(ctx context.Context, w http.ResponseWriter, id string) (*catalog.Dump, []catalog.DumpArtifact, bool) {
	dump, err := s.deps.Catalog.FindDump(ctx, id)
	if err != nil {
		s.jsonError(w, "lookup dump: "+err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	if dump == nil {
		s.jsonError(w, "unknown dump", http.StatusBadRequest)
		return nil, nil, false
	}

	links, err := s.deps.Catalog.DumpArtifacts(ctx, id)
	if err != nil {
		s.jsonError(w, "load artifact links: "+err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	return dump, links, true
}
