package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *RedisCatalog {
	t.Helper()
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	return NewRedisCatalogFromClient(cl)
}

func testDump(id string) *Dump {
	return &Dump{
		ID:          id,
		DisplayName: "crash-" + id[:8],
		Owner:       "ci-bot",
		CreatedAt:   time.Now().UTC(),
	}
}

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestFindDumpAbsent(t *testing.T) {
	cat := newTestCatalog(t)

	d, err := cat.FindDump(context.Background(), hashA)
	require.NoError(t, err)
	assert.Nil(t, d, "absent dump is a nil result, not an error")
}

func TestInsertDumpIfAbsent(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.InsertDumpIfAbsent(ctx, testDump(hashA))
	require.NoError(t, err)
	assert.True(t, created)

	// Second insert of the same id is ignored.
	dup := testDump(hashA)
	dup.Owner = "someone-else"
	created, err = cat.InsertDumpIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	d, err := cat.FindDump(ctx, hashA)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "ci-bot", d.Owner, "losing insert must not overwrite")
}

func TestInsertArtifactConcurrentDuplicates(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	createdCount := make([]bool, writers)
	errs := make([]error, writers)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(idx int) {
			defer wg.Done()
			createdCount[idx], errs[idx] = cat.InsertArtifactIfAbsent(ctx, &Artifact{
				Hash:       hashA,
				StorageKey: "artifacts/" + hashA,
				FileName:   "app.dll",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i], "no writer may observe a hard failure")
		if createdCount[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one insert wins the race")
}

func TestFindArtifactByIndex(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.InsertArtifactIfAbsent(ctx, &Artifact{Hash: hashA, FileName: "libc.so"})
	require.NoError(t, err)

	created, err := cat.InsertIndexIfAbsent(ctx, "elf-buildid/deadbeef/libc.so", hashA)
	require.NoError(t, err)
	assert.True(t, created)

	a, err := cat.FindArtifactByIndex(ctx, "elf-buildid/deadbeef/libc.so")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "libc.so", a.FileName)

	a, err = cat.FindArtifactByIndex(ctx, "no/such/key")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestUpdateDumpProperties(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.InsertDumpIfAbsent(ctx, testDump(hashA))
	require.NoError(t, err)

	require.NoError(t, cat.UpdateDumpProperties(ctx, hashA, map[string]string{
		"OS":      "linux",
		"ARCH":    "x64",
		"PROCESS": "dotnet",
	}))

	// Merge: overwrite one, add one.
	require.NoError(t, cat.UpdateDumpProperties(ctx, hashA, map[string]string{
		"ARCH":   "arm64",
		"DISTRO": "ubuntu",
	}))

	props, err := cat.DumpProperties(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"OS":      "linux",
		"ARCH":    "arm64",
		"PROCESS": "dotnet",
		"DISTRO":  "ubuntu",
	}, props)
}

func TestUpdateDumpPropertiesUnknownDump(t *testing.T) {
	cat := newTestCatalog(t)

	err := cat.UpdateDumpProperties(context.Background(), hashB, map[string]string{"OS": "linux"})
	assert.ErrorIs(t, err, ErrDumpNotFound)
}

func TestSetDumpFailure(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.InsertDumpIfAbsent(ctx, testDump(hashA))
	require.NoError(t, err)

	created, err := cat.RecordFailureIfAbsent(ctx, "failure-bucket-1")
	require.NoError(t, err)
	assert.True(t, created)

	// Duplicate failure records are ignored, not errors.
	created, err = cat.RecordFailureIfAbsent(ctx, "failure-bucket-1")
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, cat.SetDumpFailure(ctx, hashA, "failure-bucket-1"))

	d, err := cat.FindDump(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, "failure-bucket-1", d.FailureHash)

	assert.ErrorIs(t, cat.SetDumpFailure(ctx, hashB, "x"), ErrDumpNotFound)
}

func TestLinkArtifactToDump(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.InsertDumpIfAbsent(ctx, testDump(hashA))
	require.NoError(t, err)

	// Pending link first, then resolve it.
	require.NoError(t, cat.LinkArtifactToDump(ctx, hashA, "", `C:\app\bin\app.dll`))
	require.NoError(t, cat.LinkArtifactToDump(ctx, hashA, "", "/usr/lib/libc.so"))

	links, err := cat.DumpArtifacts(ctx, hashA)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.False(t, links[0].Resolved())
	assert.False(t, links[1].Resolved())

	require.NoError(t, cat.LinkArtifactToDump(ctx, hashA, hashB, "/usr/lib/libc.so"))

	links, err = cat.DumpArtifacts(ctx, hashA)
	require.NoError(t, err)
	require.Len(t, links, 2)

	byPath := map[string]DumpArtifact{}
	for _, l := range links {
		byPath[l.LocalPath] = l
	}
	assert.Equal(t, hashB, byPath["/usr/lib/libc.so"].Hash)
	pending := byPath[`C:\app\bin\app.dll`]
	assert.False(t, pending.Resolved())

	assert.ErrorIs(t, cat.LinkArtifactToDump(ctx, hashB, "", "p"), ErrDumpNotFound)
}

func TestDumpArtifactsEmptyDump(t *testing.T) {
	cat := newTestCatalog(t)

	links, err := cat.DumpArtifacts(context.Background(), hashA)
	require.NoError(t, err)
	assert.Empty(t, links)
}
