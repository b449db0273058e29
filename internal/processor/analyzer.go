package processor

import (
	"context"
	"io"
)

// Analysis is what the artifact analyzer extracted from staged bytes.
type Analysis struct {
	// Format names the recognized binary format (elf, pe, macho,
	// minidump, pdb, ...). Empty when unrecognized.
	Format string
	// Indexes are debug-index keys (symbol-server style) under which the
	// artifact should be findable.
	Indexes []string
	// Properties are incident properties derived from a dump.
	Properties map[string]string
	// ModuleRefs are client-local paths of modules a dump references.
	// Each becomes a pending artifact link on the incident.
	ModuleRefs []string
}

// Analyzer extracts metadata from a staged artifact. Implementations
// wrap the binary-format parsers, which are outside the core; failures
// to recognize a format are not errors, just an empty Analysis.
type Analyzer interface {
	Analyze(ctx context.Context, r io.ReadSeeker, filename string) (*Analysis, error)
}

// NoopAnalyzer recognizes nothing. It keeps the upload pipeline
// functional when no format parsers are configured.
type NoopAnalyzer struct{}

// Analyze implements Analyzer.
func (NoopAnalyzer) Analyze(context.Context, io.ReadSeeker, string) (*Analysis, error) {
	return &Analysis{}, nil
}
