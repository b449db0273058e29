package blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	notBefore, expiresAt := grantWindow(now)

	assert.True(t, notBefore.Before(now), "window must start strictly before now")
	assert.Equal(t, time.Minute, now.Sub(notBefore), "start is one minute in the past")
	assert.Equal(t, time.Hour, expiresAt.Sub(now), "expiry is one hour out")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "artifacts/abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "artifacts/abc", strings.NewReader("payload"), -1))

	ok, err = store.Exists(ctx, "artifacts/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Get(ctx, "artifacts/abc")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIssueReadGrant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "artifacts/abc", strings.NewReader("x"), -1))

	before := time.Now()
	grant, err := store.IssueReadGrant(ctx, "artifacts/abc", "app.dll")
	require.NoError(t, err)

	assert.True(t, grant.NotBefore.Before(before))
	assert.Contains(t, grant.URL, "artifacts/abc")
	assert.Contains(t, grant.URL, "grant=")
	assert.Contains(t, grant.URL, "filename=app.dll")

	// Fixed validity: one hour after a start within one minute of now.
	assert.Equal(t, time.Hour+time.Minute, grant.ExpiresAt.Sub(grant.NotBefore))
}

func TestMemoryStoreIssueReadGrantAbsent(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.IssueReadGrant(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), -1))
	store.Delete("k")

	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
