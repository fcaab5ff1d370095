package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/class-shrinker/pkg/model"
)

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// SaveRun inserts run and sets its ID.
func (r *GormRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	record, err := FromModel(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	run.ID = record.ID
	return nil
}

// GetRun retrieves a run by its ID.
func (r *GormRunRepository) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	var record ShrinkRun

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return record.ToModel()
}

// LatestRun retrieves the most recent run.
func (r *GormRunRepository) LatestRun(ctx context.Context, onlySucceeded bool) (*model.Run, error) {
	var record ShrinkRun

	query := r.db.WithContext(ctx).Order("id DESC")
	if onlySucceeded {
		query = query.Where("status = ?", model.RunStatusSucceeded)
	}

	err := query.First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return record.ToModel()
}

// ListRuns retrieves up to limit runs, newest first.
func (r *GormRunRepository) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	var records []ShrinkRun

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*model.Run, 0, len(records))
	for i := range records {
		run, err := records[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode run %d: %w", records[i].ID, err)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs.
func (r *GormRunRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid keep count: %d", keep)
	}

	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&ShrinkRun{}).
		Order("id DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find runs to prune: %w", err)
	}
	if len(ids) <= keep {
		return 0, nil
	}
	ids = ids[keep:]

	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&ShrinkRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
