package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/export"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/mock"
	"github.com/class-shrinker/internal/report"
	"github.com/class-shrinker/internal/shrinker"
	"github.com/class-shrinker/internal/testutil"
	"github.com/class-shrinker/pkg/config"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/model"
	"github.com/class-shrinker/pkg/utils"
)

const mainRule = "-keepclasseswithmembers class * { public static void main(java.lang.String[]); }"

type fakeExporter struct {
	mu    sync.Mutex
	nodes []int
}

func (f *fakeExporter) Export(ctx context.Context, store *graph.Store) (export.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, store.NodeCount())
	return export.Stats{Nodes: store.NodeCount(), Edges: store.EdgeCount()}, nil
}

// app writes app/Main calling app/Util.help and returns the input folder.
func app(t *testing.T, dir string, withExtra bool) string {
	in := filepath.Join(dir, "in")

	main := testutil.NewClass("app/Main")
	m := main.Method(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V").
		InvokeStatic("app/Util", "help", "()V")
	if withExtra {
		m.InvokeStatic("app/Util", "extra", "()V")
	}
	m.Return()
	testutil.WriteClass(t, in, main)

	util := testutil.NewClass("app/Util")
	util.Method(classfile.AccPublic|classfile.AccStatic, "help", "()V").Return()
	util.Method(classfile.AccPublic|classfile.AccStatic, "extra", "()V").Return()
	testutil.WriteClass(t, in, util)
	return in
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Keep.Rules = []string{mainRule}
	cfg.Storage.LocalPath = filepath.Join(dir, "state")
	cfg.Database.Enabled = true
	cfg.Database.Path = filepath.Join(dir, "db", "runs.db")
	cfg.Metrics.Enabled = true
	cfg.Metrics.TextfilePath = filepath.Join(dir, "shrinker.prom")
	return cfg
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))

	svc, err := New(config.Default(), nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.logger)
}

func TestService_ShrinkBeforeInitialize(t *testing.T) {
	svc, err := New(config.Default(), nil)
	require.NoError(t, err)

	_, err = svc.Shrink(context.Background(), ShrinkRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestService_Shrink(t *testing.T) {
	dir := t.TempDir()
	in := app(t, dir, false)
	out := filepath.Join(dir, "out")
	cfg := testConfig(dir)
	cfg.Shrinker.Incremental = true
	cfg.Shrinker.ReportPath = filepath.Join(dir, "reports", "shrink.json")

	exporter := &fakeExporter{}
	svc, err := New(cfg, &utils.NullLogger{}, WithGraphExporter(exporter))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	defer svc.Close(context.Background())
	require.NoError(t, svc.HealthCheck(context.Background()))

	req := ShrinkRequest{Mappings: []shrinker.Mapping{{Input: in, Output: out}}}

	// Unknown changes force a full run.
	res, err := svc.Shrink(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, shrinker.ModeFull, res.Mode)
	assert.Equal(t, "changed files unknown", res.FallbackReason)
	assert.Equal(t, 2, res.KeptClasses[graph.TargetShrink])
	assert.True(t, testutil.FileExists(t, filepath.Join(cfg.Storage.LocalPath, "shrinker", "graph.bin")))

	// Calling the extra method is an incremental change of app/Main.
	app(t, dir, true)
	req.Changes = map[string]shrinker.FileStatus{
		filepath.Join(in, "app", "Main.class"): shrinker.StatusChanged,
	}
	res, err = svc.Shrink(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, shrinker.ModeIncremental, res.Mode)
	assert.Equal(t, []string{"app/Main", "app/Util"}, res.ModifiedClasses)

	runs, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunModeIncremental, runs[0].Mode)
	assert.Equal(t, model.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, 1, runs[0].ChangedFiles)
	assert.NotEmpty(t, runs[0].Phases)
	assert.Equal(t, model.RunModeFull, runs[1].Mode)
	assert.Equal(t, "changed files unknown", runs[1].FallbackReason)
	assert.Equal(t, 2, runs[1].KeptClasses)

	assert.Len(t, exporter.nodes, 2)

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `shrinker_runs_total{mode="incremental"} 1`)
	assert.Contains(t, string(data), `shrinker_incremental_fallbacks_total 1`)

	raw, err := os.ReadFile(cfg.Shrinker.ReportPath)
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	require.NotNil(t, rep.Run)
	assert.Equal(t, runs[0].ID, rep.Run.ID)
	assert.NotEmpty(t, rep.Seeds["shrink"])
}

func TestService_ShrinkFailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	testutil.WriteBytes(t, filepath.Join(in, "app", "Broken.class"), []byte("not a class"))

	cfg := testConfig(dir)
	cfg.Database.Enabled = false

	runs := &mock.MockRunRepository{}
	runs.On("SaveRun", testifymock.Anything, testifymock.MatchedBy(func(run *model.Run) bool {
		return run.Status == model.RunStatusFailed && run.Mode == model.RunModeFull && run.Error != ""
	})).Return(nil).Once()

	svc, err := New(cfg, &utils.NullLogger{}, WithRunRepository(runs))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))

	_, err = svc.Shrink(context.Background(), ShrinkRequest{
		Mappings: []shrinker.Mapping{{Input: in, Output: filepath.Join(dir, "out")}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsParseError(err))
	runs.AssertExpectations(t)

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `shrinker_run_failures_total{code="PARSE_ERROR"} 1`)
}

func TestService_StateStorageWiring(t *testing.T) {
	dir := t.TempDir()
	in := app(t, dir, false)

	cfg := testConfig(dir)
	cfg.Database.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Shrinker.Incremental = true
	cfg.Shrinker.StateKey = "builds/app/graph.bin"

	st := &mock.MockStorage{}
	st.On("Delete", testifymock.Anything, "builds/app/graph.bin").Return(nil).Once()
	st.ExpectUpload("builds/app/graph.bin", nil).Once()
	st.ExpectLocation("builds/app/graph.bin", "mock://builds/app/graph.bin").Once()

	svc, err := New(cfg, &utils.NullLogger{}, WithStorage(st))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))

	_, err = svc.Shrink(context.Background(), ShrinkRequest{
		Mappings: []shrinker.Mapping{{Input: in, Output: filepath.Join(dir, "out")}},
	})
	require.NoError(t, err)
	st.AssertExpectations(t)

	_, err = svc.History(context.Background(), 1)
	assert.Error(t, err)
}

func TestService_InitializeErrors(t *testing.T) {
	t.Run("Storage", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Type = "ftp"
		svc, err := New(cfg, &utils.NullLogger{})
		require.NoError(t, err)
		err = svc.Initialize(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeStorageError, apperrors.GetErrorCode(err))
	})

	t.Run("Rules", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.LocalPath = t.TempDir()
		cfg.Keep.ConfigFiles = []string{filepath.Join(t.TempDir(), "missing.pro")}
		svc, err := New(cfg, &utils.NullLogger{})
		require.NoError(t, err)
		err = svc.Initialize(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}
