package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/pkg/config"
	"github.com/class-shrinker/pkg/model"
)

func TestNewDialector(t *testing.T) {
	tests := []struct {
		dbType  string
		want    string
		wantErr bool
	}{
		{"sqlite", "sqlite", false},
		{"", "sqlite", false},
		{"postgres", "postgres", false},
		{"postgresql", "postgres", false},
		{"mysql", "mysql", false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			d, err := NewDialector(&config.DatabaseConfig{
				Type: tt.dbType,
				Path: filepath.Join(t.TempDir(), "runs.db"),
				Host: "localhost",
				Port: 5432,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported database type")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	repos, err := Open(&config.DatabaseConfig{Type: "sqlite", Path: path})
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	require.NoError(t, repos.HealthCheck(ctx))
	assert.NotNil(t, repos.DB())
	assert.NotNil(t, repos.GormDB())

	run := &model.Run{Mode: model.RunModeFull, Status: model.RunStatusSucceeded, KeptClasses: 4}
	require.NoError(t, repos.Runs.SaveRun(ctx, run))

	latest, err := repos.Runs.LatestRun(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 4, latest.KeptClasses)
}

func TestRepositories_Close(t *testing.T) {
	repos := NewRepositories(setupTestDB(t))
	assert.NoError(t, repos.Close())

	empty := &Repositories{}
	assert.NoError(t, empty.Close())
}
