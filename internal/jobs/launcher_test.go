package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchRunsAsync(t *testing.T) {
	l := NewLauncher(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Bool

	err := l.Launch("test", JobFunc(func(ctx context.Context) error {
		close(started)
		<-release
		ran.Store(true)
		return nil
	}))
	require.NoError(t, err)

	// Launch must not block on the job body.
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}
	assert.False(t, ran.Load(), "job should still be in flight")

	close(release)
	require.NoError(t, l.Drain(context.Background()))
	assert.True(t, ran.Load())
}

func TestDrainWaitsForInFlightJobs(t *testing.T) {
	l := NewLauncher(nil)

	var finished atomic.Bool
	release := make(chan struct{})

	require.NoError(t, l.Launch("slow", JobFunc(func(ctx context.Context) error {
		<-release
		finished.Store(true)
		return nil
	})))

	drained := make(chan error, 1)
	go func() { drained <- l.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("drain returned while job still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-drained)
	assert.True(t, finished.Load(), "drain must wait for the job to finish")
}

func TestDrainRejectsNewJobs(t *testing.T) {
	l := NewLauncher(nil)
	require.NoError(t, l.Drain(context.Background()))

	err := l.Launch("late", JobFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrDraining)
}

func TestDrainHonorsContext(t *testing.T) {
	l := NewLauncher(nil)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, l.Launch("stuck", JobFunc(func(ctx context.Context) error {
		<-release
		return nil
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Drain(ctx), context.DeadlineExceeded)
}

func TestFailedJobDoesNotPoisonLauncher(t *testing.T) {
	l := NewLauncher(nil)

	require.NoError(t, l.Launch("bad", JobFunc(func(ctx context.Context) error {
		return assert.AnError
	})))
	require.NoError(t, l.Launch("good", JobFunc(func(ctx context.Context) error {
		return nil
	})))

	require.NoError(t, l.Drain(context.Background()))
}
