package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/surveygen/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalLock_TryAcquireIsExclusive(t *testing.T) {
	reg := workflow.NewLockRegistry()
	lock := reg.Get("sv-1")

	require.True(t, lock.TryAcquire())
	assert.False(t, lock.TryAcquire())

	lock.Release()
	assert.True(t, lock.TryAcquire())
}

func TestEvalLock_AcquireWaitsForRelease(t *testing.T) {
	reg := workflow.NewLockRegistry()
	lock := reg.Get("sv-1")
	require.True(t, lock.TryAcquire())

	go func() {
		time.Sleep(20 * time.Millisecond)
		lock.Release()
	}()

	got := lock.Acquire(context.Background(), time.Second)
	assert.True(t, got)
}

func TestEvalLock_AcquireTimesOut(t *testing.T) {
	reg := workflow.NewLockRegistry()
	lock := reg.Get("sv-1")
	require.True(t, lock.TryAcquire())

	start := time.Now()
	got := lock.Acquire(context.Background(), 20*time.Millisecond)
	assert.False(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvalLock_AcquireHonorsContextCancellation(t *testing.T) {
	reg := workflow.NewLockRegistry()
	lock := reg.Get("sv-1")
	require.True(t, lock.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	got := lock.Acquire(ctx, time.Minute)
	assert.False(t, got)
}

func TestEvalLock_ReleaseUnheldIsNoOp(t *testing.T) {
	reg := workflow.NewLockRegistry()
	lock := reg.Get("sv-1")

	lock.Release()
	lock.Release()
	assert.True(t, lock.TryAcquire())
}

func TestLockRegistry_SameIDSameLock(t *testing.T) {
	reg := workflow.NewLockRegistry()

	a := reg.Get("sv-1")
	b := reg.Get("sv-1")
	other := reg.Get("sv-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, reg.Len())
}

func TestLockRegistry_Cleanup(t *testing.T) {
	reg := workflow.NewLockRegistry()
	reg.Get("sv-1")
	require.Equal(t, 1, reg.Len())

	reg.Cleanup("sv-1")
	assert.Equal(t, 0, reg.Len())

	// Absent entries are safe to clean up.
	reg.Cleanup("sv-1")
	assert.Equal(t, 0, reg.Len())
}
