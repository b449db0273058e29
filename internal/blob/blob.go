// Package blob abstracts the durable object store holding committed
// artifact bytes. crashvault never proxies artifact bytes on the single
// artifact download path; it issues short-lived read grants and lets the
// store's own bandwidth be the limiting factor.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a blob reference has no object behind it.
// A catalog row pointing at a missing blob is a consistency anomaly the
// read path treats as not-found, never as a fault.
var ErrNotFound = errors.New("blob not found")

const (
	// grantClockSkew backdates the grant so a store whose clock runs
	// ahead of ours still honors it immediately.
	grantClockSkew = time.Minute
	// grantValidity is the fixed read window.
	grantValidity = time.Hour
)

// Grant is a read-only, time-windowed capability for one blob.
type Grant struct {
	// URL carries the grant token as query credentials.
	URL       string
	NotBefore time.Time
	ExpiresAt time.Time
}

// grantWindow computes the validity window for a grant issued now:
// start one minute in the past, expiry one hour out.
func grantWindow(now time.Time) (notBefore, expiresAt time.Time) {
	return now.Add(-grantClockSkew), now.Add(grantValidity)
}

// Store is the object-store collaborator surface the core requires.
type Store interface {
	// Exists reports whether the object behind key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get opens the object for reading. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores an object. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// IssueReadGrant mints a time-windowed read URL for the object.
	// filename is attached as the download disposition so clients see a
	// human-readable name even though the key is a content hash.
	IssueReadGrant(ctx context.Context, key, filename string) (*Grant, error)
}
