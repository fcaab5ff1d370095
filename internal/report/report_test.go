package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/model"
)

func required(t *testing.T, s *graph.Store, m graph.Member, target graph.ShrinkTarget) {
	var c graph.Counters
	c[graph.Required] = 1
	require.NoError(t, s.SetCounters(m, target, c))
}

// reportStore builds app/Main (seeded, with an unused helper), an unused
// app/Dead class and app/Gone whose file was deleted.
func reportStore(t *testing.T) *graph.Store {
	s := graph.NewStore()

	mainClass, err := s.AddClass("app/Main", "", nil, false, "app/Main.class")
	require.NoError(t, err)
	main, err := s.AddMember("app/Main", "main", "([Ljava/lang/String;)V")
	require.NoError(t, err)
	_, err = s.AddMember("app/Main", "helper", "()V")
	require.NoError(t, err)
	count, err := s.AddMember("app/Main", "count", "I")
	require.NoError(t, err)

	_, err = s.AddClass("app/Dead", "", nil, false, "app/Dead.class")
	require.NoError(t, err)
	_, err = s.AddMember("app/Dead", "run", "()V")
	require.NoError(t, err)

	_, err = s.AddClass("app/Gone", "", nil, false, "app/Gone.class")
	require.NoError(t, err)
	require.NoError(t, s.MarkRemoved("app/Gone"))

	_, err = s.AddSeed(main, graph.TargetShrink)
	require.NoError(t, err)
	_, err = s.AddSeed(mainClass, graph.TargetShrink)
	require.NoError(t, err)
	for _, m := range []graph.Member{mainClass, main, count} {
		required(t, s, m, graph.TargetShrink)
	}
	return s
}

func TestBuild(t *testing.T) {
	run := &model.Run{ID: 3, Mode: model.RunModeFull}
	r := Build(run, reportStore(t))

	assert.Same(t, run, r.Run)
	assert.Equal(t, map[string][]string{
		"shrink": {"app/Main", "app/Main.main([Ljava/lang/String;)V"},
	}, r.Seeds)
	assert.Equal(t, []string{"app/Dead", "app/Main.helper()V"}, r.Usage)
	assert.Empty(t, r.MainDex)
}

func TestBuild_MainDex(t *testing.T) {
	s := reportStore(t)
	mainClass := graph.ClassMember("app/Main")
	_, err := s.AddSeed(mainClass, graph.TargetLegacyMultidex)
	require.NoError(t, err)
	required(t, s, mainClass, graph.TargetLegacyMultidex)

	r := Build(&model.Run{}, s)
	assert.Equal(t, []string{"app/Main"}, r.Seeds["legacy_multidex"])
	assert.Equal(t, []string{"app/Main"}, r.MainDex)
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "shrink.json")
	require.NoError(t, Write(path, &model.Run{ID: 9, Status: model.RunStatusSucceeded}, reportStore(t)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Run)
	assert.Equal(t, int64(9), decoded.Run.ID)
	assert.Contains(t, decoded.Usage, "app/Dead")
}
