// Package processor implements the background jobs that commit staged
// uploads to permanent storage. A processor owns its staged file: it
// deletes the file only once the commit is durable, so an interrupted
// job can be retried from disk after a restart instead of re-requesting
// the bytes from the client.
package processor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/blob"
	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/metrics"
	"github.com/crashvault/crashvault/internal/staging"
)

// StorageKey returns the canonical blob reference for an artifact hash.
func StorageKey(hash string) string {
	return "artifacts/" + hash
}

// Deps are the collaborators shared by all processors.
type Deps struct {
	Catalog  catalog.Catalog
	Blobs    blob.Store
	Staging  *staging.Store
	Analyzer Analyzer
	Metrics  *metrics.ServerMetrics
}

// ArtifactProcessor commits one staged artifact: verify the content
// hash, analyze, gzip-compress, upload to the blob store, record the
// artifact and its debug indexes in the catalog, link it to its dump,
// and finally discard the staged file.
type ArtifactProcessor struct {
	Deps

	OpToken    string
	StagedPath string
	Hash       string
	// DumpID is empty for artifacts uploaded outside any incident.
	DumpID string
	// LocalPath is the client-declared path the artifact was loaded from.
	LocalPath string
	FileName  string
}

// Run implements jobs.Job.
func (p *ArtifactProcessor) Run(ctx context.Context) error {
	_, err := p.commit(ctx)
	return err
}

// commit performs the shared artifact pipeline and returns the analysis
// for the dump variant to act on.
func (p *ArtifactProcessor) commit(ctx context.Context) (*Analysis, error) {
	f, err := os.Open(p.StagedPath)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	size, err := p.verifyHash(f)
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind staged file: %w", err)
	}
	analysis, err := p.Analyzer.Analyze(ctx, f, p.FileName)
	if err != nil {
		// Unrecognized formats are not fatal; the bytes are still worth
		// keeping under their hash.
		log.Warn().Err(err).Str("hash", p.Hash).Msg("artifact analysis failed")
		analysis = &Analysis{}
	}

	if err := p.uploadCompressed(ctx, f); err != nil {
		return nil, err
	}

	created, err := p.Catalog.InsertArtifactIfAbsent(ctx, &catalog.Artifact{
		Hash:       p.Hash,
		StorageKey: StorageKey(p.Hash),
		FileName:   p.FileName,
		Size:       size,
		Format:     analysis.Format,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit artifact %s: %w", p.Hash, err)
	}
	if !created {
		// Lost the first-upload race. The winner committed identical
		// bytes, so verify-and-skip: treat the artifact as existing.
		log.Debug().Str("hash", p.Hash).Str("op", p.OpToken).
			Msg("artifact already committed by a concurrent upload")
		if p.Metrics != nil {
			p.Metrics.JobsTotal.WithLabelValues("duplicate").Inc()
		}
	}

	for _, key := range analysis.Indexes {
		if _, err := p.Catalog.InsertIndexIfAbsent(ctx, key, p.Hash); err != nil {
			return nil, fmt.Errorf("record index %s: %w", key, err)
		}
	}

	if p.DumpID != "" {
		if err := p.Catalog.LinkArtifactToDump(ctx, p.DumpID, p.Hash, p.LocalPath); err != nil {
			return nil, fmt.Errorf("link artifact %s to dump %s: %w", p.Hash, p.DumpID, err)
		}
	}

	// The commit is durable; only now may the staged copy go away.
	if err := p.Staging.Discard(p.StagedPath); err != nil {
		log.Warn().Err(err).Str("path", p.StagedPath).Msg("failed to discard staged file")
	}

	return analysis, nil
}

// verifyHash checks the staged bytes against the client-declared content
// hash and returns the byte count. A mismatch means the upload was
// corrupted or mislabeled; the staged file is kept for inspection.
func (p *ArtifactProcessor) verifyHash(r io.Reader) (int64, error) {
	h := sha1.New()
	size, err := io.Copy(h, r)
	if err != nil {
		return 0, fmt.Errorf("hash staged file: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, p.Hash) {
		return 0, fmt.Errorf("staged content hash %s does not match declared hash %s", actual, p.Hash)
	}
	return size, nil
}

// uploadCompressed gzips the staged bytes into a scratch file and puts
// the result in the blob store under the artifact's storage key.
func (p *ArtifactProcessor) uploadCompressed(ctx context.Context, f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staged file: %w", err)
	}

	scratch, err := p.Staging.Scratch()
	if err != nil {
		return err
	}
	defer scratch.Close()

	zw := gzip.NewWriter(scratch)
	if _, err := io.Copy(zw, f); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}

	compressedSize, err := scratch.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("measure compressed artifact: %w", err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind compressed artifact: %w", err)
	}

	if err := p.Blobs.Put(ctx, StorageKey(p.Hash), scratch, compressedSize); err != nil {
		return fmt.Errorf("store artifact %s: %w", p.Hash, err)
	}
	return nil
}

// DumpProcessor commits a staged crash dump. Beyond the artifact
// pipeline it records the incident properties the analyzer derived and a
// pending artifact link for every module the dump references, so clients
// know which artifacts are still wanted.
type DumpProcessor struct {
	ArtifactProcessor
}

// Run implements jobs.Job.
func (p *DumpProcessor) Run(ctx context.Context) error {
	analysis, err := p.commit(ctx)
	if err != nil {
		return err
	}

	if p.DumpID == "" {
		return nil
	}

	if len(analysis.Properties) > 0 {
		if err := p.Catalog.UpdateDumpProperties(ctx, p.DumpID, analysis.Properties); err != nil {
			return fmt.Errorf("record dump properties: %w", err)
		}
	}

	for _, ref := range analysis.ModuleRefs {
		// Pending link: hash resolves when (if) the module is uploaded.
		if err := p.Catalog.LinkArtifactToDump(ctx, p.DumpID, "", ref); err != nil {
			return fmt.Errorf("record module reference %s: %w", ref, err)
		}
	}

	return nil
}
