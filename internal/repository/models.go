// Package repository persists the history of shrinker runs.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/class-shrinker/pkg/model"
)

// ShrinkRun represents the shrink_runs table.
type ShrinkRun struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Mode            string          `gorm:"column:mode;type:varchar(16);index"`
	Status          model.RunStatus `gorm:"column:status"`
	FallbackReason  string          `gorm:"column:fallback_reason;type:varchar(512)"`
	Error           string          `gorm:"column:error;type:text"`
	ProgramClasses  int             `gorm:"column:program_classes"`
	LibraryClasses  int             `gorm:"column:library_classes"`
	Nodes           int             `gorm:"column:nodes"`
	Edges           int             `gorm:"column:edges"`
	KeptClasses     int             `gorm:"column:kept_classes"`
	MainDexClasses  int             `gorm:"column:main_dex_classes"`
	ChangedFiles    int             `gorm:"column:changed_files"`
	ModifiedClasses JSONField       `gorm:"column:modified_classes;type:text"`
	Collected       int             `gorm:"column:collected"`
	Written         int64           `gorm:"column:written"`
	Deleted         int64           `gorm:"column:deleted"`
	Phases          JSONField       `gorm:"column:phases;type:text"`
	DurationMs      int64           `gorm:"column:duration_ms"`
	StartedAt       time.Time       `gorm:"column:started_at;index"`
	CreateTime      time.Time       `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table name for ShrinkRun.
func (ShrinkRun) TableName() string {
	return "shrink_runs"
}

// ToModel converts ShrinkRun to model.Run.
func (r *ShrinkRun) ToModel() (*model.Run, error) {
	run := &model.Run{
		ID:             r.ID,
		Mode:           model.RunMode(r.Mode),
		Status:         r.Status,
		FallbackReason: r.FallbackReason,
		Error:          r.Error,
		ProgramClasses: r.ProgramClasses,
		LibraryClasses: r.LibraryClasses,
		Nodes:          r.Nodes,
		Edges:          r.Edges,
		KeptClasses:    r.KeptClasses,
		MainDexClasses: r.MainDexClasses,
		ChangedFiles:   r.ChangedFiles,
		Collected:      r.Collected,
		Written:        r.Written,
		Deleted:        r.Deleted,
		DurationMs:     r.DurationMs,
		StartedAt:      r.StartedAt,
	}

	if r.ModifiedClasses != nil {
		if err := json.Unmarshal(r.ModifiedClasses, &run.ModifiedClasses); err != nil {
			return nil, err
		}
	}
	if r.Phases != nil {
		if err := json.Unmarshal(r.Phases, &run.Phases); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// FromModel converts model.Run to ShrinkRun.
func FromModel(run *model.Run) (*ShrinkRun, error) {
	r := &ShrinkRun{
		ID:             run.ID,
		Mode:           string(run.Mode),
		Status:         run.Status,
		FallbackReason: run.FallbackReason,
		Error:          run.Error,
		ProgramClasses: run.ProgramClasses,
		LibraryClasses: run.LibraryClasses,
		Nodes:          run.Nodes,
		Edges:          run.Edges,
		KeptClasses:    run.KeptClasses,
		MainDexClasses: run.MainDexClasses,
		ChangedFiles:   run.ChangedFiles,
		Collected:      run.Collected,
		Written:        run.Written,
		Deleted:        run.Deleted,
		DurationMs:     run.DurationMs,
		StartedAt:      run.StartedAt,
	}

	if len(run.ModifiedClasses) > 0 {
		data, err := json.Marshal(run.ModifiedClasses)
		if err != nil {
			return nil, err
		}
		r.ModifiedClasses = data
	}
	if len(run.Phases) > 0 {
		data, err := json.Marshal(run.Phases)
		if err != nil {
			return nil, err
		}
		r.Phases = data
	}

	return r, nil
}

// JSONField is a custom type for handling JSON columns.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
