package shrinker

import (
	"context"
	"sync"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/collections"
	"github.com/class-shrinker/pkg/parallel"
	"github.com/class-shrinker/pkg/utils"
)

// ChangeFunc is called when a member changes reachability for a target.
type ChangeFunc func(m graph.Member, target graph.ShrinkTarget, reachable bool)

// Engine propagates counter changes through the graph. Cascades run on the
// calling goroutine with an explicit work list. Concurrent Increment calls
// are safe; AddEdge and RemoveEdge must not run concurrently with a
// decrement cascade, which could withdraw an edge count before AddEdge has
// added it.
type Engine struct {
	store    *graph.Store
	logger   utils.Logger
	onChange ChangeFunc

	mu         sync.Mutex
	candidates map[graph.ShrinkTarget]map[graph.Member]struct{}
}

// NewEngine creates an engine over store. onChange may be nil.
func NewEngine(store *graph.Store, onChange ChangeFunc, logger utils.Logger) *Engine {
	e := &Engine{
		store:      store,
		logger:     utils.OrNull(logger),
		onChange:   onChange,
		candidates: make(map[graph.ShrinkTarget]map[graph.Member]struct{}),
	}
	for _, t := range graph.AllTargets {
		e.candidates[t] = make(map[graph.Member]struct{})
	}
	return e
}

type pending struct {
	member graph.Member
	typ    graph.DependencyType
}

func (e *Engine) changed(m graph.Member, target graph.ShrinkTarget, reachable bool) {
	if e.onChange != nil {
		e.onChange(m, target, reachable)
	}
}

// Increment counts one more reason of type typ for m and cascades into the
// dependencies of every member that becomes reachable.
func (e *Engine) Increment(m graph.Member, typ graph.DependencyType, target graph.ShrinkTarget) error {
	work := []pending{{m, typ}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]

		became, deps, err := e.store.IncrementAndCheck(p.member, p.typ, target)
		if err != nil {
			return err
		}
		if !became {
			continue
		}
		e.changed(p.member, target, true)
		for _, d := range deps {
			work = append(work, pending{d.Target, d.Type})
		}
	}
	return nil
}

// Decrement removes one reason of type typ from m and cascades into the
// dependencies of every member that stops being reachable. Members that
// lose a reason but stay reachable are remembered for CollectCycles.
func (e *Engine) Decrement(m graph.Member, typ graph.DependencyType, target graph.ShrinkTarget) error {
	work := []pending{{m, typ}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]

		became, deps, err := e.store.DecrementAndCheck(p.member, p.typ, target)
		if err != nil {
			return err
		}
		if !became {
			e.addCandidate(p.member, target)
			continue
		}
		e.changed(p.member, target, false)
		for _, d := range deps {
			work = append(work, pending{d.Target, d.Type})
		}
	}
	return nil
}

func (e *Engine) addCandidate(m graph.Member, target graph.ShrinkTarget) {
	e.mu.Lock()
	e.candidates[target][m] = struct{}{}
	e.mu.Unlock()
}

// MarkSeeds increments every seed of target as required. Seeds are
// processed in parallel.
func (e *Engine) MarkSeeds(ctx context.Context, target graph.ShrinkTarget, pool parallel.PoolConfig) error {
	return parallel.ForEach(ctx, e.store.Seeds(target), pool, func(ctx context.Context, seed graph.Member) error {
		return e.Increment(seed, graph.Required, target)
	})
}

// AddEdge inserts an edge and counts it for every target its source is
// reachable for.
func (e *Engine) AddEdge(edge graph.Edge) error {
	targets, err := e.store.AddDependencyLive(edge.Source, edge.Dependency)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := e.Increment(edge.Target, edge.Type, t); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEdge deletes an edge and withdraws its count from every target its
// source is reachable for.
func (e *Engine) RemoveEdge(edge graph.Edge) error {
	targets, err := e.store.RemoveDependencyLive(edge.Source, edge.Dependency)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := e.Decrement(edge.Target, edge.Type, t); err != nil {
			return err
		}
	}
	return nil
}

// CollectCycles makes members that are only kept alive by cycles
// unreachable. It runs trial deletion over every member reachable from the
// decrement candidates of target: the members are re-marked from the
// support they get from outside that region, and counters are rewritten to
// match. It must not run concurrently with other counter updates.
func (e *Engine) CollectCycles(target graph.ShrinkTarget) (int, error) {
	e.mu.Lock()
	candidates := e.candidates[target]
	e.candidates[target] = make(map[graph.Member]struct{})
	e.mu.Unlock()

	// Region: reachable members reachable from a candidate.
	region := make(map[graph.Member]graph.Counters)
	stack := collections.NewStack[graph.Member](len(candidates))
	for m := range candidates {
		if c := e.store.Counters(m, target); c.Reachable() {
			region[m] = c
			stack.Push(m)
		}
	}
	for m, ok := stack.Pop(); ok; m, ok = stack.Pop() {
		for _, d := range e.store.Dependencies(m) {
			if _, ok := region[d.Target]; ok {
				continue
			}
			if c := e.store.Counters(d.Target, target); c.Reachable() {
				region[d.Target] = c
				stack.Push(d.Target)
			}
		}
	}
	if len(region) == 0 {
		return 0, nil
	}

	// Support from outside the region.
	support := make(map[graph.Member]graph.Counters, len(region))
	for m, c := range region {
		support[m] = c
	}
	for m := range region {
		for _, d := range e.store.Dependencies(m) {
			if c, ok := support[d.Target]; ok {
				c[d.Type]--
				support[d.Target] = c
			}
		}
	}

	// Re-mark the region from external support.
	live := make(map[graph.Member]bool)
	for m, c := range support {
		if c.Reachable() {
			live[m] = true
			stack.Push(m)
		}
	}
	for m, ok := stack.Pop(); ok; m, ok = stack.Pop() {
		for _, d := range e.store.Dependencies(m) {
			c, ok := support[d.Target]
			if !ok {
				continue
			}
			c[d.Type]++
			support[d.Target] = c
			if !live[d.Target] && c.Reachable() {
				live[d.Target] = true
				stack.Push(d.Target)
			}
		}
	}

	collected := 0
	for m := range region {
		if err := e.store.SetCounters(m, target, support[m]); err != nil {
			return collected, err
		}
		if live[m] {
			continue
		}
		collected++
		e.changed(m, target, false)
		// Counts this member gave to unreachable members outside the region.
		for _, d := range e.store.Dependencies(m) {
			if _, ok := region[d.Target]; ok {
				continue
			}
			if _, _, err := e.store.DecrementAndCheck(d.Target, d.Type, target); err != nil {
				return collected, err
			}
		}
	}
	if collected > 0 {
		e.logger.Debug("Collected %d members kept alive only by cycles for %s", collected, target)
	}
	return collected, nil
}
