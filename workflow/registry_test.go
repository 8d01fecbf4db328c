package workflow_test

import (
	"testing"

	"github.com/c360studio/surveygen/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_TrackerLifecycle(t *testing.T) {
	reg := workflow.NewRegistry(10, nil, nil)

	a := reg.TrackerFor("wf-1", workflow.GenerationRanges)
	b := reg.TrackerFor("wf-1", workflow.GenerationRanges)
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.TrackerCount())

	reg.TrackerFor("wf-2", workflow.DocumentParseRanges)
	assert.Equal(t, 2, reg.TrackerCount())

	reg.RemoveTracker("wf-1")
	assert.Equal(t, 1, reg.TrackerCount())

	// Removing an absent tracker is safe.
	reg.RemoveTracker("wf-1")
	assert.Equal(t, 1, reg.TrackerCount())
}

func TestRegistry_TrackerRestartsAfterRemoval(t *testing.T) {
	reg := workflow.NewRegistry(10, nil, nil)

	tracker := reg.TrackerFor("wf-1", workflow.GenerationRanges)
	tracker.StepProgress(workflow.StepGenerating, "")
	require.Equal(t, 35, tracker.Current())

	reg.RemoveTracker("wf-1")
	fresh := reg.TrackerFor("wf-1", workflow.GenerationRanges)
	assert.NotSame(t, tracker, fresh)
	assert.Equal(t, 0, fresh.Current())
}

func TestRegistry_AdmissionCeiling(t *testing.T) {
	reg := workflow.NewRegistry(2, nil, nil)

	rel1, err := reg.Admit("wf-1")
	require.NoError(t, err)
	_, err = reg.Admit("wf-2")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.ActiveWorkflows())

	_, err = reg.Admit("wf-3")
	require.ErrorIs(t, err, workflow.ErrTooManyWorkflows)

	rel1()
	assert.Equal(t, 1, reg.ActiveWorkflows())
	_, err = reg.Admit("wf-3")
	assert.NoError(t, err)
}

func TestRegistry_EvalLockCleanup(t *testing.T) {
	reg := workflow.NewRegistry(10, nil, nil)

	lock := reg.EvalLockFor("sv-1")
	require.True(t, lock.TryAcquire())
	assert.Equal(t, 1, reg.Locks().Len())

	lock.Release()
	reg.CleanupEvalLock("sv-1")
	assert.Equal(t, 0, reg.Locks().Len())
}

func TestRegistry_MetricsRegistration(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := workflow.NewRegistry(10, promReg, nil)

	release, err := reg.Admit("wf-1")
	require.NoError(t, err)
	defer release()
	reg.TrackerFor("wf-1", workflow.GenerationRanges)
	reg.RecordTerminal("completed")

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["surveygen_active_workflows"])
	assert.True(t, names["surveygen_progress_trackers"])
	assert.True(t, names["surveygen_workflow_terminals_total"])
}
