package workflow_test

import (
	"fmt"
	"testing"

	"github.com/c360studio/surveygen/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolation_AdmitUpToLimit(t *testing.T) {
	iso := workflow.NewIsolation(3)

	for i := 0; i < 3; i++ {
		_, err := iso.Admit(fmt.Sprintf("wf-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, iso.ActiveCount())

	_, err := iso.Admit("wf-overflow")
	assert.ErrorIs(t, err, workflow.ErrTooManyWorkflows)
	assert.Equal(t, 3, iso.ActiveCount())
}

func TestIsolation_ReleaseFreesSlot(t *testing.T) {
	iso := workflow.NewIsolation(1)

	release, err := iso.Admit("wf-1")
	require.NoError(t, err)
	require.True(t, iso.IsActive("wf-1"))

	release()
	assert.False(t, iso.IsActive("wf-1"))
	assert.Equal(t, 0, iso.ActiveCount())

	_, err = iso.Admit("wf-2")
	assert.NoError(t, err)
}

func TestIsolation_ReleaseIsIdempotent(t *testing.T) {
	iso := workflow.NewIsolation(2)

	release, err := iso.Admit("wf-1")
	require.NoError(t, err)
	_, err = iso.Admit("wf-2")
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, 1, iso.ActiveCount())
}

func TestIsolation_DuplicateAdmitRejected(t *testing.T) {
	iso := workflow.NewIsolation(5)

	_, err := iso.Admit("wf-1")
	require.NoError(t, err)

	_, err = iso.Admit("wf-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrTooManyWorkflows)
}

func TestNewIsolation_DefaultLimit(t *testing.T) {
	iso := workflow.NewIsolation(0)

	for i := 0; i < 10; i++ {
		_, err := iso.Admit(fmt.Sprintf("wf-%d", i))
		require.NoError(t, err)
	}
	_, err := iso.Admit("wf-11")
	assert.ErrorIs(t, err, workflow.ErrTooManyWorkflows)
}
