// Package archive assembles on-demand zip archives containing every
// committed artifact of one crash incident, each entry placed at the
// sanitized client-local path it was loaded from.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/blob"
	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/metrics"
	"github.com/crashvault/crashvault/internal/processor"
	"github.com/crashvault/crashvault/internal/staging"
)

// defaultConcurrency bounds parallel blob downloads per archive when the
// caller does not configure a limit.
const defaultConcurrency = 8

// Assembler builds incident archives. Blob downloads and decompression
// run concurrently up to MaxConcurrency; entry writes into the single
// zip stream are serialized behind a write gate.
type Assembler struct {
	Blobs   blob.Store
	Staging *staging.Store
	Metrics *metrics.ServerMetrics

	// MaxConcurrency caps parallel artifact fetches. Zero means
	// defaultConcurrency.
	MaxConcurrency int
}

// Assemble builds a zip archive of every resolved artifact link of the
// dump and returns it as a scratch file positioned at offset zero, plus
// the number of entries written. Pending links (no committed artifact
// yet) are skipped. The caller owns the returned file; closing it
// deletes the archive from disk.
//
// Cancelling ctx aborts the assembly; partial output is deleted.
func (a *Assembler) Assemble(ctx context.Context, dump *catalog.Dump, links []catalog.DumpArtifact) (*staging.ScratchFile, int, error) {
	start := time.Now()
	out, entries, err := a.assemble(ctx, dump, links)

	if a.Metrics != nil {
		a.Metrics.ArchiveDuration.Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			a.Metrics.ArchivesTotal.WithLabelValues("success").Inc()
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			a.Metrics.ArchivesTotal.WithLabelValues("cancelled").Inc()
		default:
			a.Metrics.ArchivesTotal.WithLabelValues("failure").Inc()
		}
	}
	return out, entries, err
}

func (a *Assembler) assemble(ctx context.Context, dump *catalog.Dump, links []catalog.DumpArtifact) (_ *staging.ScratchFile, _ int, err error) {
	out, err := a.Staging.Scratch()
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	zw := zip.NewWriter(out)
	w := &archiveWriter{zw: zw, names: make(map[string]bool)}

	limit := a.MaxConcurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	sem := make(chan struct{}, limit)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(e error) {
		errOnce.Do(func() {
			firstErr = e
			cancel()
		})
	}

	entries := 0
	var entriesMu sync.Mutex

	for _, link := range links {
		if !link.Resolved() {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if cerr := ctx.Err(); cerr != nil {
			fail(cerr)
			break
		}

		wg.Add(1)
		go func(link catalog.DumpArtifact) {
			defer wg.Done()
			defer func() { <-sem }()

			added, e := a.addEntry(ctx, w, link)
			if e != nil {
				fail(e)
				return
			}
			if added {
				entriesMu.Lock()
				entries++
				entriesMu.Unlock()
			}
		}(link)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, fmt.Errorf("assemble archive for dump %s: %w", dump.ID, firstErr)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("finalize archive: %w", err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewind archive: %w", err)
	}
	return out, entries, nil
}

// addEntry downloads one artifact, decompresses it to a scratch file and
// copies it into the archive under its sanitized local path. A catalog
// link whose blob has gone missing is logged and skipped, not fatal.
func (a *Assembler) addEntry(ctx context.Context, w *archiveWriter, link catalog.DumpArtifact) (bool, error) {
	rc, err := a.Blobs.Get(ctx, processor.StorageKey(link.Hash))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			log.Warn().Str("hash", link.Hash).Str("path", link.LocalPath).
				Msg("archive entry skipped, blob missing")
			return false, nil
		}
		return false, fmt.Errorf("fetch artifact %s: %w", link.Hash, err)
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return false, fmt.Errorf("decompress artifact %s: %w", link.Hash, err)
	}
	defer zr.Close()

	// Spool the decompressed bytes to scratch before taking the write
	// gate, so a slow blob read never stalls the whole archive.
	scratch, err := a.Staging.Scratch()
	if err != nil {
		return false, err
	}
	defer scratch.Close()

	n, err := io.Copy(scratch, zr)
	if err != nil {
		return false, fmt.Errorf("spool artifact %s: %w", link.Hash, err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind spooled artifact: %w", err)
	}

	name := SanitizePath(link.LocalPath)
	if name == "" {
		name = link.Hash
	}

	if err := w.write(ctx, name, link.Hash, scratch); err != nil {
		return false, err
	}

	if a.Metrics != nil {
		a.Metrics.ArchiveEntries.Inc()
		a.Metrics.ArchiveBytesRead.Add(float64(n))
	}
	return true, nil
}

// archiveWriter serializes entry creation in the zip stream. zip.Writer
// is single-stream: only one entry can be open at a time.
type archiveWriter struct {
	zw    *zip.Writer
	mu    sync.Mutex
	names map[string]bool
}

func (w *archiveWriter) write(ctx context.Context, name, hash string, r io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The gate may have been held for a while; do not start a new entry
	// in an aborted archive.
	if err := ctx.Err(); err != nil {
		return err
	}

	// Two distinct artifacts can sanitize to the same entry name, e.g.
	// two builds of one module. Disambiguate with the content hash.
	if w.names[name] {
		name = hash[:8] + "/" + name
	}
	w.names[name] = true

	ew, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}
