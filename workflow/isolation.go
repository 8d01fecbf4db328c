package workflow

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTooManyWorkflows is returned when the concurrency ceiling has
// been reached. Callers must fail fast, not queue.
var ErrTooManyWorkflows = errors.New("maximum concurrent workflows reached")

// Isolation is the admission-control guard limiting in-flight
// workflows. A workflow enters the active set at start and leaves it
// on every exit path, including errors and pauses, via the returned
// release func.
type Isolation struct {
	mu     sync.Mutex
	active map[string]struct{}
	limit  int
}

// NewIsolation creates an admission guard with the given ceiling.
// A non-positive limit falls back to 10.
func NewIsolation(limit int) *Isolation {
	if limit <= 0 {
		limit = 10
	}
	return &Isolation{
		active: make(map[string]struct{}),
		limit:  limit,
	}
}

// Admit adds the workflow to the active set. The release func is
// idempotent and must be called (typically deferred) on every exit
// path. Admitting an already-active workflow id is an error.
func (i *Isolation) Admit(workflowID string) (release func(), err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.active[workflowID]; exists {
		return nil, fmt.Errorf("workflow %s already active", workflowID)
	}
	if len(i.active) >= i.limit {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManyWorkflows, i.limit)
	}
	i.active[workflowID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.active, workflowID)
			i.mu.Unlock()
		})
	}, nil
}

// ActiveCount returns the number of in-flight workflows.
func (i *Isolation) ActiveCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}

// IsActive reports whether the workflow is currently in flight.
func (i *Isolation) IsActive(workflowID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.active[workflowID]
	return ok
}
