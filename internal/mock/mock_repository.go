package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/class-shrinker/pkg/model"
)

// MockRunRepository is a mock implementation of RunRepository.
type MockRunRepository struct {
	mock.Mock
}

// SaveRun mocks the SaveRun method.
func (m *MockRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// GetRun mocks the GetRun method.
func (m *MockRunRepository) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

// LatestRun mocks the LatestRun method.
func (m *MockRunRepository) LatestRun(ctx context.Context, onlySucceeded bool) (*model.Run, error) {
	args := m.Called(ctx, onlySucceeded)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

// ListRuns mocks the ListRuns method.
func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Run), args.Error(1)
}

// PruneRuns mocks the PruneRuns method.
func (m *MockRunRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	args := m.Called(ctx, keep)
	return args.Get(0).(int64), args.Error(1)
}

// ExpectSaveRun sets up an expectation for SaveRun.
func (m *MockRunRepository) ExpectSaveRun(err error) *mock.Call {
	return m.On("SaveRun", mock.Anything, mock.Anything).Return(err)
}

// ExpectPruneRuns sets up an expectation for PruneRuns.
func (m *MockRunRepository) ExpectPruneRuns(keep int, removed int64, err error) *mock.Call {
	return m.On("PruneRuns", mock.Anything, keep).Return(removed, err)
}
