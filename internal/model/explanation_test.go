package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStateTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    JobState
		terminal bool
	}{
		{JobStateQueued, false},
		{JobStateRunning, false},
		{JobStateCompleted, true},
		{JobStateFailed, true},
		{JobStateCancelled, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.state.Terminal(), string(tt.state))
	}
}

func TestExplanationJobJSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	job := ExplanationJob{
		ID:      "job-1",
		ModelID: "m-1",
		Method:  MethodSHAP,
		Scope:   Scope{Kind: ScopeGlobal},
		State:   JobStateQueued,
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "explanation_id")
	assert.NotContains(t, string(raw), "\"error\"")
	assert.NotContains(t, string(raw), "started_at")
	assert.NotContains(t, string(raw), "completed_at")
}

func TestFailedJobCarriesStructuredError(t *testing.T) {
	t.Parallel()

	job := ExplanationJob{
		ID:     "job-2",
		State:  JobStateFailed,
		Error:  &JobError{Class: "attribution_failed", Message: "singular surrogate system"},
		Method: MethodLIME,
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var got ExplanationJob
	require.NoError(t, json.Unmarshal(raw, &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, "attribution_failed", got.Error.Class)
}
