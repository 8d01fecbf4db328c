package workflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEvaluationPending is returned when another caller already holds
// the evaluation lock for a survey and the requester chose not to
// wait. The caller must fall back to a cached result or report the
// evaluation as pending; it must never run a second concurrent
// evaluation for the same survey id.
var ErrEvaluationPending = errors.New("evaluation already in progress")

// EvalLock is a per-survey mutex with non-blocking and bounded-wait
// acquisition. Implemented over a one-slot channel so a waiting
// acquire can honor context cancellation.
type EvalLock struct {
	slot chan struct{}
}

func newEvalLock() *EvalLock {
	return &EvalLock{slot: make(chan struct{}, 1)}
}

// TryAcquire attempts to take the lock without blocking.
func (l *EvalLock) TryAcquire() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire waits up to wait for the lock, honoring ctx cancellation.
func (l *EvalLock) Acquire(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l.slot <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *EvalLock) Release() {
	select {
	case <-l.slot:
	default:
	}
}

// LockRegistry holds one evaluation lock per survey id. Entries are
// created lazily on first acquisition and must be cleaned up after
// release so the registry does not grow without bound over the process
// lifetime. The registry map itself is guarded by a coarser mutex for
// its own mutation only.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*EvalLock
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*EvalLock)}
}

// Get returns the lock for a survey id, creating it on first use.
// Subsequent calls with the same id return the same lock.
func (r *LockRegistry) Get(surveyID string) *EvalLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[surveyID]
	if !ok {
		lock = newEvalLock()
		r.locks[surveyID] = lock
	}
	return lock
}

// Cleanup removes the lock entry for a survey id. Safe to call when
// the entry is absent. Call after Release, not before.
func (r *LockRegistry) Cleanup(surveyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, surveyID)
}

// Len returns the number of live lock entries, exposed for
// observability.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
