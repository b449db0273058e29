package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/ident"
	"github.com/crashvault/crashvault/internal/jobs"
	"github.com/crashvault/crashvault/internal/processor"
)

func (s *Server) handleCreateDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hash := r.URL.Query().Get("hash")
	if !ident.ValidHash(hash) {
		s.jsonError(w, "invalid content hash", http.StatusBadRequest)
		return
	}
	id := ident.NormalizeHash(hash)

	displayName := r.URL.Query().Get("displayName")
	if displayName == "" {
		displayName = id
	}

	created, err := s.deps.Catalog.InsertDumpIfAbsent(r.Context(), &catalog.Dump{
		ID:          id,
		DisplayName: displayName,
		Owner:       r.URL.Query().Get("user"),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		s.jsonError(w, "create dump: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Idempotent: a re-create of an existing incident returns its id.
	s.writeJSON(w, createDumpResponse{DumpID: id, Created: created})
}

func (s *Server) handleDumpProperties(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var props map[string]string
	if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.deps.Catalog.UpdateDumpProperties(ctx, id, props); err != nil {
		if errors.Is(err, catalog.ErrDumpNotFound) {
			s.jsonError(w, "unknown dump", http.StatusBadRequest)
			return
		}
		s.jsonError(w, "update properties: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// A FAILURE_HASH property buckets the incident under its failure.
	if failureHash, ok := props["FAILURE_HASH"]; ok && failureHash != "" {
		if _, err := s.deps.Catalog.RecordFailureIfAbsent(ctx, failureHash); err != nil {
			s.jsonError(w, "record failure: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if err := s.deps.Catalog.SetDumpFailure(ctx, id, failureHash); err != nil {
			s.jsonError(w, "record failure: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleUploadDump(w http.ResponseWriter, r *http.Request) {
	s.acceptUpload(w, r, "dump", "")
}

func (s *Server) handleUploadDumpArtifact(w http.ResponseWriter, r *http.Request, id string) {
	dump, err := s.deps.Catalog.FindDump(r.Context(), id)
	if err != nil {
		s.jsonError(w, "lookup dump: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if dump == nil {
		s.jsonError(w, "unknown dump", http.StatusBadRequest)
		return
	}
	s.acceptUpload(w, r, "artifact", dump.ID)
}

func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	s.acceptUpload(w, r, "artifact", "")
}

// acceptUpload is the shared intake path. It stages the request body,
// consults the dedup gate and acknowledges immediately; hashing,
// compression and catalog commits happen in a background job. kind is
// "dump" or "artifact"; a dump upload is its own incident, identified by
// the dump's content hash.
func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request, kind, dumpID string) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hash := r.URL.Query().Get("hash")
	if !ident.ValidHash(hash) {
		s.reject(w, kind, "invalid content hash", http.StatusBadRequest)
		return
	}
	hash = ident.NormalizeHash(hash)

	localPath := r.URL.Query().Get("localpath")
	fileName := baseName(localPath)
	if fileName == "" {
		s.reject(w, kind, "localpath is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if kind == "dump" {
		// The dump is its own incident, but the incident record must be
		// created up front; an upload never creates it implicitly.
		dump, err := s.deps.Catalog.FindDump(ctx, hash)
		if err != nil {
			s.jsonError(w, "lookup dump: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if dump == nil {
			s.reject(w, kind, "unknown dump, call create first", http.StatusBadRequest)
			return
		}
		dumpID = hash
	}

	token := ident.NewOperationToken()

	// Known duplicates skip staging entirely; the bytes already live in
	// permanent storage under this hash.
	known, err := s.gate.Known(ctx, hash)
	if err != nil {
		s.jsonError(w, "dedup lookup: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if known {
		if ok := s.linkDuplicate(w, dumpID, hash, localPath, r); !ok {
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.UploadsTotal.WithLabelValues(kind, "duplicate").Inc()
		}
		s.writeJSON(w, uploadResponse{Token: token, Hash: hash, Duplicate: true})
		return
	}

	body := http.MaxBytesReader(w, r.Body, int64(s.cfg.Upload.MaxSize))
	stagedPath, err := s.deps.Staging.Stage(token, hash, fileName, body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.reject(w, kind, "upload exceeds size limit", http.StatusRequestEntityTooLarge)
			return
		}
		s.jsonError(w, "stage upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if s.deps.Metrics != nil {
		if fi, err := os.Stat(stagedPath); err == nil {
			s.deps.Metrics.UploadBytesStaged.Add(float64(fi.Size()))
		}
	}

	artifact := processor.ArtifactProcessor{
		Deps: processor.Deps{
			Catalog:  s.deps.Catalog,
			Blobs:    s.deps.Blobs,
			Staging:  s.deps.Staging,
			Analyzer: s.deps.Analyzer,
			Metrics:  s.deps.Metrics,
		},
		OpToken:    token,
		StagedPath: stagedPath,
		Hash:       hash,
		DumpID:     dumpID,
		LocalPath:  localPath,
		FileName:   fileName,
	}
	var job jobs.Job = &artifact
	if kind == "dump" {
		job = &processor.DumpProcessor{ArtifactProcessor: artifact}
	}

	started, err := s.gate.Admit(ctx, hash, stagedPath, job)
	if err != nil {
		if errors.Is(err, jobs.ErrDraining) {
			s.jsonError(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.jsonError(w, "admit upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !started {
		// A concurrent upload committed the hash between the pre-check
		// and the gate. The staged copy is gone; only the link remains.
		if ok := s.linkDuplicate(w, dumpID, hash, localPath, r); !ok {
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.UploadsTotal.WithLabelValues(kind, "duplicate").Inc()
		}
		s.writeJSON(w, uploadResponse{Token: token, Hash: hash, Duplicate: true})
		return
	}

	log.Info().Str("kind", kind).Str("hash", hash).Str("op", token).
		Str("file", fileName).Msg("upload staged")
	if s.deps.Metrics != nil {
		s.deps.Metrics.UploadsTotal.WithLabelValues(kind, "staged").Inc()
	}
	s.writeJSON(w, uploadResponse{Token: token, Hash: hash})
}

// linkDuplicate records the incident link for a duplicate upload, whose
// processor will never run. Reports whether the caller may proceed.
func (s *Server) linkDuplicate(w http.ResponseWriter, dumpID, hash, localPath string, r *http.Request) bool {
	if dumpID == "" {
		return true
	}
	if err := s.deps.Catalog.LinkArtifactToDump(r.Context(), dumpID, hash, localPath); err != nil {
		s.jsonError(w, "link artifact: "+err.Error(), http.StatusInternalServerError)
		return false
	}
	return true
}

func (s *Server) reject(w http.ResponseWriter, kind, message string, code int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.UploadsTotal.WithLabelValues(kind, "rejected").Inc()
	}
	s.jsonError(w, message, code)
}
