package workflow

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns the per-workflow runtime resources: progress trackers,
// evaluation locks and the admission-control active set. It is an
// injected service with lifecycle tied to the host application rather
// than a package-level global, so tests can create and tear down
// isolated instances and registry growth stays observable.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker

	locks     *LockRegistry
	isolation *Isolation
	logger    *slog.Logger

	trackerGauge prometheus.Gauge
	lockGauge    prometheus.Gauge
	activeGauge  prometheus.Gauge
	terminals    *prometheus.CounterVec
}

// NewRegistry creates a registry with the given workflow concurrency
// ceiling. Metrics are registered against reg when non-nil.
func NewRegistry(maxConcurrent int, reg prometheus.Registerer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		trackers:  make(map[string]*Tracker),
		locks:     NewLockRegistry(),
		isolation: NewIsolation(maxConcurrent),
		logger:    logger,
		trackerGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveygen_progress_trackers",
			Help: "Live progress tracker instances.",
		}),
		lockGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveygen_evaluation_locks",
			Help: "Live evaluation lock entries.",
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveygen_active_workflows",
			Help: "Workflows currently in flight.",
		}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveygen_workflow_terminals_total",
			Help: "Terminal workflow outcomes by kind.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(r.trackerGauge, r.lockGauge, r.activeGauge, r.terminals)
	}
	return r
}

// TrackerFor returns the progress tracker for a workflow, creating it
// lazily with the supplied range table. A tracker destroyed and
// recreated for the same workflow id before true completion restarts
// from zero; callers must only remove trackers on terminal paths.
func (r *Registry) TrackerFor(workflowID string, ranges RangeTable) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[workflowID]
	if !ok {
		t = NewTracker(workflowID, ranges, r.logger)
		r.trackers[workflowID] = t
		r.trackerGauge.Set(float64(len(r.trackers)))
	}
	return t
}

// RemoveTracker tears down the progress tracker for a workflow.
// Called by the completion handler on non-paused terminal paths.
func (r *Registry) RemoveTracker(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trackers[workflowID]; ok {
		delete(r.trackers, workflowID)
		r.trackerGauge.Set(float64(len(r.trackers)))
	}
}

// TrackerCount returns the number of live trackers.
func (r *Registry) TrackerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Locks returns the evaluation lock registry.
func (r *Registry) Locks() *LockRegistry { return r.locks }

// EvalLockFor returns the evaluation lock for a survey id and refreshes
// the lock gauge.
func (r *Registry) EvalLockFor(surveyID string) *EvalLock {
	lock := r.locks.Get(surveyID)
	r.lockGauge.Set(float64(r.locks.Len()))
	return lock
}

// CleanupEvalLock removes a survey's lock entry after release.
func (r *Registry) CleanupEvalLock(surveyID string) {
	r.locks.Cleanup(surveyID)
	r.lockGauge.Set(float64(r.locks.Len()))
}

// Admit runs admission control for a new workflow. The release func
// also refreshes the active-workflow gauge.
func (r *Registry) Admit(workflowID string) (func(), error) {
	release, err := r.isolation.Admit(workflowID)
	if err != nil {
		return nil, err
	}
	r.activeGauge.Set(float64(r.isolation.ActiveCount()))
	return func() {
		release()
		r.activeGauge.Set(float64(r.isolation.ActiveCount()))
	}, nil
}

// ActiveWorkflows returns the size of the admission active set.
func (r *Registry) ActiveWorkflows() int {
	return r.isolation.ActiveCount()
}

// RecordTerminal counts a terminal outcome ("completed", "error" or
// "paused") for observability.
func (r *Registry) RecordTerminal(outcome string) {
	r.terminals.WithLabelValues(outcome).Inc()
}
