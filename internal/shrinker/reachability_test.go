package shrinker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/parallel"
)

// chainStore builds app/A with methods s -> a -> b -> a, where s is a seed.
func chainStore(t *testing.T) (*graph.Store, graph.Member, graph.Member, graph.Member) {
	t.Helper()
	st := graph.NewStore()
	declare(t, st, "app/A", "", false, nil, "s ()V", "a ()V", "b ()V")
	s, a, b := method("app/A", "s", "()V"), method("app/A", "a", "()V"), method("app/A", "b", "()V")
	for _, e := range []graph.Edge{
		graph.NewEdge(s, a, graph.Required),
		graph.NewEdge(a, b, graph.Required),
		graph.NewEdge(b, a, graph.Required),
		graph.NewEdge(a, graph.ClassMember("app/A"), graph.Required),
	} {
		require.NoError(t, st.AddDependency(e.Source, e.Dependency))
	}
	_, err := st.AddSeed(s, graph.TargetShrink)
	require.NoError(t, err)
	return st, s, a, b
}

func TestEngine_MarkSeeds(t *testing.T) {
	st, s, a, b := chainStore(t)
	var mu sync.Mutex
	changed := make(map[graph.Member]bool)
	e := NewEngine(st, func(m graph.Member, target graph.ShrinkTarget, reachable bool) {
		mu.Lock()
		changed[m] = reachable
		mu.Unlock()
	}, nil)

	require.NoError(t, e.MarkSeeds(context.Background(), graph.TargetShrink, parallel.DefaultPoolConfig()))

	for _, m := range []graph.Member{s, a, b, graph.ClassMember("app/A")} {
		assert.True(t, st.IsReachable(m, graph.TargetShrink), "%s", m)
		assert.False(t, st.IsReachable(m, graph.TargetLegacyMultidex), "%s", m)
		assert.True(t, changed[m], "%s", m)
	}
	assert.Equal(t, graph.Counters{2, 0, 0}, st.Counters(a, graph.TargetShrink))
}

func TestEngine_PropagationClosure(t *testing.T) {
	st, _, _, _ := chainStore(t)
	e := NewEngine(st, nil, nil)
	require.NoError(t, e.MarkSeeds(context.Background(), graph.TargetShrink, parallel.DefaultPoolConfig()))

	st.ForEachEdge(func(src graph.Member, dep graph.Dependency) bool {
		if dep.Type == graph.Required && st.IsReachable(src, graph.TargetShrink) {
			assert.True(t, st.IsReachable(dep.Target, graph.TargetShrink), "%s -> %s", src, dep.Target)
		}
		return true
	})
}

func TestEngine_CounterSymmetry(t *testing.T) {
	st, s, a, _ := chainStore(t)
	e := NewEngine(st, nil, nil)
	require.NoError(t, e.MarkSeeds(context.Background(), graph.TargetShrink, parallel.DefaultPoolConfig()))

	before := make(map[graph.Member]graph.Counters)
	for _, m := range st.Nodes() {
		before[m] = st.Counters(m, graph.TargetShrink)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Increment(a, graph.Required, graph.TargetShrink))
		require.NoError(t, e.Increment(s, graph.NeededForInheritance, graph.TargetShrink))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Decrement(a, graph.Required, graph.TargetShrink))
		require.NoError(t, e.Decrement(s, graph.NeededForInheritance, graph.TargetShrink))
	}
	for _, m := range st.Nodes() {
		assert.Equal(t, before[m], st.Counters(m, graph.TargetShrink), "%s", m)
	}
}

func TestEngine_InheritanceNeedsBothReasons(t *testing.T) {
	st := graph.NewStore()
	declare(t, st, "app/Sub", "", false, nil, "run ()V")
	run := method("app/Sub", "run", "()V")
	e := NewEngine(st, nil, nil)

	require.NoError(t, e.Increment(run, graph.NeededForInheritance, graph.TargetShrink))
	assert.False(t, st.IsReachable(run, graph.TargetShrink))
	assert.False(t, st.IsReachable(graph.ClassMember("app/Sub"), graph.TargetShrink))

	require.NoError(t, e.Increment(run, graph.IsOverridden, graph.TargetShrink))
	assert.True(t, st.IsReachable(run, graph.TargetShrink))

	require.NoError(t, e.Decrement(run, graph.NeededForInheritance, graph.TargetShrink))
	assert.False(t, st.IsReachable(run, graph.TargetShrink))
}

func TestEngine_DecrementBelowZero(t *testing.T) {
	st, _, a, _ := chainStore(t)
	e := NewEngine(st, nil, nil)
	assert.Error(t, e.Decrement(a, graph.Required, graph.TargetShrink))
}

func TestEngine_CollectCycles(t *testing.T) {
	st, s, a, b := chainStore(t)
	e := NewEngine(st, nil, nil)
	require.NoError(t, e.MarkSeeds(context.Background(), graph.TargetShrink, parallel.DefaultPoolConfig()))

	require.NoError(t, e.RemoveEdge(graph.NewEdge(s, a, graph.Required)))
	// a and b keep each other alive until the cycle is collected.
	assert.True(t, st.IsReachable(a, graph.TargetShrink))

	n, err := e.CollectCycles(graph.TargetShrink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, m := range []graph.Member{a, b, graph.ClassMember("app/A")} {
		assert.False(t, st.IsReachable(m, graph.TargetShrink), "%s", m)
		assert.Equal(t, graph.Counters{}, st.Counters(m, graph.TargetShrink), "%s", m)
	}
	assert.True(t, st.IsReachable(s, graph.TargetShrink))

	n, err = e.CollectCycles(graph.TargetShrink)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_CollectCyclesKeepsSupportedMembers(t *testing.T) {
	st, s, a, b := chainStore(t)
	require.NoError(t, st.AddDependency(s, graph.Dependency{Target: b, Type: graph.Required}))
	e := NewEngine(st, nil, nil)
	require.NoError(t, e.MarkSeeds(context.Background(), graph.TargetShrink, parallel.DefaultPoolConfig()))

	require.NoError(t, e.RemoveEdge(graph.NewEdge(s, a, graph.Required)))
	n, err := e.CollectCycles(graph.TargetShrink)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, st.IsReachable(a, graph.TargetShrink))
	assert.Equal(t, graph.Counters{2, 0, 0}, st.Counters(b, graph.TargetShrink))
	assert.Equal(t, graph.Counters{1, 0, 0}, st.Counters(a, graph.TargetShrink))
}

func TestEngine_ConcurrentAddEdge(t *testing.T) {
	st := graph.NewStore()
	var members []string
	for i := 0; i < 50; i++ {
		members = append(members, fmt.Sprintf("m%d ()V", i))
	}
	declare(t, st, "app/Hub", "", false, nil, append(members, "root ()V", "target ()V")...)
	root, target := method("app/Hub", "root", "()V"), method("app/Hub", "target", "()V")
	_, err := st.AddSeed(root, graph.TargetShrink)
	require.NoError(t, err)
	e := NewEngine(st, nil, nil)

	var sources []graph.Member
	for i := 0; i < 50; i++ {
		sources = append(sources, method("app/Hub", fmt.Sprintf("m%d", i), "()V"))
	}
	exec := parallel.NewExecutor(context.Background(), parallel.DefaultPoolConfig().WithWorkers(8))
	exec.Go(func(ctx context.Context) error {
		return e.MarkSeeds(ctx, graph.TargetShrink, parallel.DefaultPoolConfig())
	})
	for _, src := range sources {
		src := src
		exec.Go(func(ctx context.Context) error {
			if err := e.AddEdge(graph.NewEdge(root, src, graph.Required)); err != nil {
				return err
			}
			return e.AddEdge(graph.NewEdge(src, target, graph.Required))
		})
	}
	require.NoError(t, exec.Wait())

	assert.Equal(t, graph.Counters{50, 0, 0}, st.Counters(target, graph.TargetShrink))
	for _, src := range sources {
		assert.Equal(t, graph.Counters{1, 0, 0}, st.Counters(src, graph.TargetShrink), "%s", src)
	}
}
