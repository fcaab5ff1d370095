package repository

import (
	"context"
	"errors"

	"github.com/class-shrinker/pkg/model"
)

// ErrRunNotFound is returned when a requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunRepository defines the run history operations.
type RunRepository interface {
	// SaveRun inserts run and sets its ID.
	SaveRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id int64) (*model.Run, error)

	// LatestRun retrieves the most recent run, optionally restricted to
	// successful ones.
	LatestRun(ctx context.Context, onlySucceeded bool) (*model.Run, error)

	// ListRuns retrieves up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)

	// PruneRuns deletes all but the newest keep runs and returns how many
	// were removed.
	PruneRuns(ctx context.Context, keep int) (int64, error)
}
