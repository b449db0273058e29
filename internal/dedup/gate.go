// Package dedup decides whether an uploaded artifact is novel and, if
// so, hands it to background processing exactly once per request.
package dedup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/jobs"
	"github.com/crashvault/crashvault/internal/staging"
)

// Gate checks uploads against the permanent artifact catalog.
//
// Two concurrent uploads of the same never-before-seen hash can both
// observe "not found" here and both launch a job. That race is accepted:
// the catalog insert is insert-or-ignore, and the losing job verifies and
// skips instead of failing. The gate never blocks the caller on catalog
// consistency.
type Gate struct {
	cat      catalog.Catalog
	launcher *jobs.Launcher
	staging  *staging.Store
}

// NewGate creates a dedup gate.
func NewGate(cat catalog.Catalog, launcher *jobs.Launcher, st *staging.Store) *Gate {
	return &Gate{cat: cat, launcher: launcher, staging: st}
}

// Known reports whether the hash already has a committed artifact.
// Callers use it to skip staging entirely for known duplicates.
func (g *Gate) Known(ctx context.Context, hash string) (bool, error) {
	art, err := g.cat.FindArtifact(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", hash, err)
	}
	return art != nil, nil
}

// Admit decides the fate of staged upload bytes. For a duplicate hash it
// discards the staged file and starts nothing; for a novel hash it
// launches the processing job. Returns whether a job was started.
func (g *Gate) Admit(ctx context.Context, hash, stagedPath string, job jobs.Job) (bool, error) {
	known, err := g.Known(ctx, hash)
	if err != nil {
		return false, err
	}

	if known {
		// Duplicate: the bytes already live in permanent storage under
		// this hash. The staged copy has no processor to clean it, so
		// discard it now.
		if err := g.staging.Discard(stagedPath); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("failed to discard duplicate staged upload")
		}
		return false, nil
	}

	if err := g.launcher.Launch("process:"+hash, job); err != nil {
		return false, err
	}
	return true, nil
}
