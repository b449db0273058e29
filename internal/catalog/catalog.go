// Package catalog defines the permanent record store for dumps and
// artifacts. The catalog is an external collaborator accessed strictly by
// primary key; crashvault never scans or queries it relationally.
//
// All Insert*IfAbsent operations are insert-or-ignore: under concurrent
// duplicate inserts of the same key exactly one caller creates the record
// and every other caller observes created == false with no error. The
// dedup race between two first-uploads of the same hash is resolved here,
// not with application-level locks.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrDumpNotFound is returned by mutations that require an existing dump.
var ErrDumpNotFound = errors.New("dump not found")

// Dump is one crash incident. Created once, lazily enriched with
// properties and artifact links over its lifetime, never deleted.
type Dump struct {
	// ID is the content hash of the dump itself.
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	// FailureHash groups dumps by failure bucket, set via the
	// FAILURE_HASH property.
	FailureHash string `json:"failure_hash,omitempty"`
}

// Artifact is a single deduplicated binary or symbol file. Created
// exactly once per distinct content hash by whichever upload wins the
// dedup race; never mutated afterward.
type Artifact struct {
	Hash string `json:"hash"`
	// StorageKey is the canonical blob reference in the object store.
	StorageKey string    `json:"storage_key"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Format     string    `json:"format,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DumpArtifact links an artifact to a dump under the client-local path it
// was loaded from. Hash is empty while the artifact is still pending
// upload or background processing.
type DumpArtifact struct {
	DumpID    string `json:"dump_id"`
	LocalPath string `json:"local_path"`
	Hash      string `json:"hash,omitempty"`
}

// Resolved reports whether the link points at a committed artifact.
func (da *DumpArtifact) Resolved() bool {
	return da.Hash != ""
}

// Catalog is the minimal record-store surface the core requires. Find
// operations return (nil, nil) when the record is absent; not-found is an
// outcome, not an error.
type Catalog interface {
	FindDump(ctx context.Context, id string) (*Dump, error)
	FindArtifact(ctx context.Context, hash string) (*Artifact, error)
	// FindArtifactByIndex resolves a debug-index key (e.g. a symbol
	// server key) to the artifact it was extracted from.
	FindArtifactByIndex(ctx context.Context, key string) (*Artifact, error)

	InsertDumpIfAbsent(ctx context.Context, d *Dump) (created bool, err error)
	InsertArtifactIfAbsent(ctx context.Context, a *Artifact) (created bool, err error)
	InsertIndexIfAbsent(ctx context.Context, key, hash string) (created bool, err error)
	RecordFailureIfAbsent(ctx context.Context, failureHash string) (created bool, err error)

	// UpdateDumpProperties merges the given key/value pairs into the
	// dump's property map. Returns ErrDumpNotFound for unknown dumps.
	UpdateDumpProperties(ctx context.Context, id string, props map[string]string) error
	DumpProperties(ctx context.Context, id string) (map[string]string, error)
	SetDumpFailure(ctx context.Context, id, failureHash string) error

	// LinkArtifactToDump records that the dump references an artifact at
	// localPath. An empty hash records a pending link; re-linking with a
	// hash resolves it.
	LinkArtifactToDump(ctx context.Context, dumpID, hash, localPath string) error
	DumpArtifacts(ctx context.Context, dumpID string) ([]DumpArtifact, error)
}
