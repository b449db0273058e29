package dedup

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashvault/crashvault/internal/catalog"
	"github.com/crashvault/crashvault/internal/jobs"
	"github.com/crashvault/crashvault/internal/staging"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

func newTestGate(t *testing.T) (*Gate, *catalog.RedisCatalog, *jobs.Launcher, *staging.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	cat := catalog.NewRedisCatalogFromClient(cl)

	st, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)

	launcher := jobs.NewLauncher(nil)
	return NewGate(cat, launcher, st), cat, launcher, st
}

func TestAdmitNovelHashStartsJob(t *testing.T) {
	gate, _, launcher, st := newTestGate(t)
	ctx := context.Background()

	path, err := st.Stage("tok", testHash, "core.dmp", strings.NewReader("bytes"))
	require.NoError(t, err)

	var ran atomic.Int32
	started, err := gate.Admit(ctx, testHash, path, jobs.JobFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, started)

	require.NoError(t, launcher.Drain(ctx))
	assert.Equal(t, int32(1), ran.Load())

	// The staged file is the job's to delete, not the gate's.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAdmitDuplicateDiscardsStagedBytes(t *testing.T) {
	gate, cat, launcher, st := newTestGate(t)
	ctx := context.Background()

	_, err := cat.InsertArtifactIfAbsent(ctx, &catalog.Artifact{
		Hash:       testHash,
		StorageKey: "artifacts/" + testHash,
		FileName:   "core.dmp",
		UploadedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	path, err := st.Stage("tok", testHash, "core.dmp", strings.NewReader("bytes"))
	require.NoError(t, err)

	started, err := gate.Admit(ctx, testHash, path, jobs.JobFunc(func(ctx context.Context) error {
		t.Error("job must not run for a duplicate")
		return nil
	}))
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, launcher.Drain(ctx))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "duplicate staged bytes are discarded")
}

func TestKnown(t *testing.T) {
	gate, cat, _, _ := newTestGate(t)
	ctx := context.Background()

	known, err := gate.Known(ctx, testHash)
	require.NoError(t, err)
	assert.False(t, known)

	_, err = cat.InsertArtifactIfAbsent(ctx, &catalog.Artifact{Hash: testHash})
	require.NoError(t, err)

	known, err = gate.Known(ctx, testHash)
	require.NoError(t, err)
	assert.True(t, known)
}
