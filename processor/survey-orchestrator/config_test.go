package surveyorchestrator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	surveyorchestrator "github.com/c360studio/surveygen/processor/survey-orchestrator"
)

func TestDefaultConfig(t *testing.T) {
	cfg := surveyorchestrator.DefaultConfig()

	assert.Equal(t, "SURVEY", cfg.StreamName)
	assert.Equal(t, "survey-orchestrator", cfg.ConsumerName)
	assert.Equal(t, "survey.submit.rfq", cfg.SubmitSubject)

	require.NotNil(t, cfg.Ports)
	require.Len(t, cfg.Ports.Inputs, 1)
	assert.Equal(t, "rfq-submissions", cfg.Ports.Inputs[0].Name)
	assert.True(t, cfg.Ports.Inputs[0].Required)

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*surveyorchestrator.Config)
		wantErr string
	}{
		{
			name:    "missing stream name",
			mutate:  func(c *surveyorchestrator.Config) { c.StreamName = "" },
			wantErr: "stream_name is required",
		},
		{
			name:    "missing consumer name",
			mutate:  func(c *surveyorchestrator.Config) { c.ConsumerName = "" },
			wantErr: "consumer_name is required",
		},
		{
			name:    "missing submit subject",
			mutate:  func(c *surveyorchestrator.Config) { c.SubmitSubject = "" },
			wantErr: "submit_subject is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := surveyorchestrator.DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
