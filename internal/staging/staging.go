// Package staging provides durable temporary storage for uploaded bytes
// pending background commit, plus auto-cleaned scratch files for transient
// work such as archive assembly.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyBufSize is the buffer used when spooling upload streams to disk.
// 4 KiB matches the write granularity of most filesystems; staging is
// I/O bound on the network side so a larger buffer buys little.
const copyBufSize = 4 * 1024

// Store manages a staging directory shared by all in-flight uploads.
//
// Staged files are keyed by (operation token, content hash, filename) so
// the path is deterministic: a processing job interrupted by a restart can
// rediscover its input on disk instead of re-requesting it from the client.
// For the same reason staged files are never auto-cleaned; deleting one is
// the responsibility of whichever processor durably committed (or
// permanently failed) the upload.
type Store struct {
	root string
}

// NewStore creates a staging store rooted at dir, creating it if missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the staging root directory.
func (s *Store) Root() string {
	return s.root
}

// StagedPath returns the deterministic location for an upload's bytes.
// It does not touch the filesystem.
func (s *Store) StagedPath(token, hash, filename string) string {
	return filepath.Join(s.root, token, hash, filename)
}

// Stage writes an upload stream to its deterministic staging path and
// returns the absolute path. Intermediate directories are created on
// demand. The file is left in place for the background processor; Stage
// never deletes it.
func (s *Store) Stage(token, hash, filename string, r io.Reader) (string, error) {
	path := s.StagedPath(token, hash, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}

	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}

	return path, nil
}

// Discard removes a staged file and prunes its now-empty hash and token
// directories. Only processors call this, and only once the bytes are
// durably committed to permanent storage (or the upload is abandoned).
func (s *Store) Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged file: %w", err)
	}

	// Prune empty parents up to (not including) the staging root.
	dir := filepath.Dir(path)
	for dir != s.root && len(dir) > len(s.root) {
		if err := os.Remove(dir); err != nil {
			break // not empty or already gone
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// ScratchFile is a temporary file removed from disk when closed. It is
// used for transient buffers (blob downloads, decompression, archive
// output), never for durably-accepted client uploads.
type ScratchFile struct {
	*os.File
}

// Close closes and deletes the scratch file.
func (f *ScratchFile) Close() error {
	err := f.File.Close()
	if rmErr := os.Remove(f.File.Name()); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Scratch allocates an auto-cleaned temporary file under the staging
// root. Callers own the returned file and must Close it.
func (s *Store) Scratch() (*ScratchFile, error) {
	dir := filepath.Join(s.root, "scratch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "scratch-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	return &ScratchFile{File: f}, nil
}
