// Package model defines the records shared between the shrinker service and
// its persistence layers.
package model

import (
	"time"
)

// RunMode tells how a shrinker run was performed.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// RunStatus is the outcome of a run.
type RunStatus int

const (
	RunStatusSucceeded RunStatus = 0
	RunStatusFailed    RunStatus = 1
	RunStatusCanceled  RunStatus = 2
)

// String returns the string representation of RunStatus.
func (s RunStatus) String() string {
	switch s {
	case RunStatusSucceeded:
		return "succeeded"
	case RunStatusFailed:
		return "failed"
	case RunStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// PhaseTiming is the duration of one phase of a run.
type PhaseTiming struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// Run is the summary of one shrinker run as kept in the run history.
type Run struct {
	ID             int64     `json:"id"`
	Mode           RunMode   `json:"mode"`
	Status         RunStatus `json:"status"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Error          string    `json:"error,omitempty"`

	ProgramClasses int `json:"program_classes"`
	LibraryClasses int `json:"library_classes"`
	Nodes          int `json:"nodes"`
	Edges          int `json:"edges"`
	KeptClasses    int `json:"kept_classes"`
	MainDexClasses int `json:"main_dex_classes"`

	ChangedFiles    int      `json:"changed_files"`
	ModifiedClasses []string `json:"modified_classes,omitempty"`
	Collected       int      `json:"collected"`
	Written         int64    `json:"written"`
	Deleted         int64    `json:"deleted"`

	Phases     []PhaseTiming `json:"phases,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	StartedAt  time.Time     `json:"started_at"`
}

// IsIncremental reports whether the run updated a persisted graph.
func (r *Run) IsIncremental() bool {
	return r.Mode == RunModeIncremental
}

// PhaseDuration returns the duration of the named phase, or zero when the
// run did not reach it.
func (r *Run) PhaseDuration(name string) time.Duration {
	for _, p := range r.Phases {
		if p.Name == name {
			return time.Duration(p.DurationMs) * time.Millisecond
		}
	}
	return 0
}
