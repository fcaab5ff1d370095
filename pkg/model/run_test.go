package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_String(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusSucceeded, "succeeded"},
		{RunStatusFailed, "failed"},
		{RunStatusCanceled, "canceled"},
		{RunStatus(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestRun_PhaseDuration(t *testing.T) {
	run := &Run{
		Mode: RunModeIncremental,
		Phases: []PhaseTiming{
			{Name: "load", DurationMs: 12},
			{Name: "update", DurationMs: 40},
		},
	}

	assert.True(t, run.IsIncremental())
	assert.Equal(t, 40*time.Millisecond, run.PhaseDuration("update"))
	assert.Zero(t, run.PhaseDuration("write"))
}
