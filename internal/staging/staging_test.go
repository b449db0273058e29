package staging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)
	return store
}

func TestStageWritesDeterministicPath(t *testing.T) {
	store := newTestStore(t)

	content := []byte("minidump bytes")
	path, err := store.Stage("tok123", "aabbcc", "core.dmp", bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, store.StagedPath("tok123", "aabbcc", "core.dmp"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStageSurvivesStoreRestart(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")

	store, err := NewStore(root)
	require.NoError(t, err)

	_, err = store.Stage("tok", "ff00", "lib.so", strings.NewReader("symbols"))
	require.NoError(t, err)

	// A new store over the same root must find the file at the same path.
	reopened, err := NewStore(root)
	require.NoError(t, err)

	got, err := os.ReadFile(reopened.StagedPath("tok", "ff00", "lib.so"))
	require.NoError(t, err)
	assert.Equal(t, "symbols", string(got))
}

func TestStageConcurrentUploadsDoNotCollide(t *testing.T) {
	store := newTestStore(t)

	// Same hash and filename under different tokens must land in
	// different files.
	p1, err := store.Stage("token-a", "0011", "a.dll", strings.NewReader("one"))
	require.NoError(t, err)
	p2, err := store.Stage("token-b", "0011", "a.dll", strings.NewReader("two"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)

	got1, _ := os.ReadFile(p1)
	got2, _ := os.ReadFile(p2)
	assert.Equal(t, "one", string(got1))
	assert.Equal(t, "two", string(got2))
}

func TestDiscardRemovesFileAndPrunesDirs(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Stage("tok", "dead", "x.bin", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Discard(path))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Token directory is pruned once empty.
	_, err = os.Stat(filepath.Join(store.Root(), "tok"))
	assert.True(t, os.IsNotExist(err))

	// Root itself survives.
	info, err := os.Stat(store.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDiscardMissingFileIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Discard(store.StagedPath("t", "h", "f")))
}

func TestScratchRemovedOnClose(t *testing.T) {
	store := newTestStore(t)

	f, err := store.Scratch()
	require.NoError(t, err)
	name := f.Name()

	_, err = f.Write([]byte("transient"))
	require.NoError(t, err)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "transient", string(got))

	require.NoError(t, f.Close())

	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err), "scratch file should be deleted on close")
}
