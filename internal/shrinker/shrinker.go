// Package shrinker computes which classes, methods and fields of a program
// are reachable from its keep rules and writes the program without the
// rest. Runs are either full or incremental over a persisted graph.
package shrinker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/class-shrinker/internal/graph"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/parallel"
	"github.com/class-shrinker/pkg/utils"
)

var tracer = otel.Tracer("github.com/class-shrinker/internal/shrinker")

// DefaultStateKey is the object key of the persisted graph.
const DefaultStateKey = "shrinker/graph.bin"

// Options configures a Shrinker.
type Options struct {
	// Workers bounds every parallel phase. Zero selects the pool default.
	Workers int
	// StateKey is the key of the persisted graph in the state store.
	StateKey string
	// CheckDependencies validates the graph after resolution.
	CheckDependencies bool
	// MainDexListPath receives the classes kept for TargetLegacyMultidex.
	MainDexListPath string
}

// Observer receives progress of shrinker runs.
type Observer interface {
	PhaseFinished(phase string, d time.Duration)
	RunFinished(res *Result)
}

// Option configures optional collaborators of a Shrinker.
type Option func(*Shrinker)

// WithLogger sets the logger.
func WithLogger(l utils.Logger) Option {
	return func(s *Shrinker) {
		s.logger = utils.OrNull(l)
	}
}

// WithStateStore sets where the graph is persisted between runs. Without a
// state store every incremental run is impossible.
func WithStateStore(st graph.StateStore) Option {
	return func(s *Shrinker) {
		s.state = st
	}
}

// WithObserver sets the run observer.
func WithObserver(o Observer) Option {
	return func(s *Shrinker) {
		s.observer = o
	}
}

// WithClock sets the clock used for phase timing.
func WithClock(c utils.Clock) Option {
	return func(s *Shrinker) {
		s.clock = c
	}
}

// Shrinker runs full and incremental shrinks.
type Shrinker struct {
	opts     Options
	pool     parallel.PoolConfig
	logger   utils.Logger
	state    graph.StateStore
	observer Observer
	clock    utils.Clock
}

// New creates a Shrinker.
func New(opts Options, options ...Option) *Shrinker {
	if opts.StateKey == "" {
		opts.StateKey = DefaultStateKey
	}
	s := &Shrinker{
		opts:   opts,
		pool:   parallel.DefaultPoolConfig().WithWorkers(opts.Workers),
		logger: &utils.NullLogger{},
		clock:  utils.NewRealClock(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Mode tells how a run was performed.
type Mode int

const (
	// ModeFull rebuilt the graph from all inputs.
	ModeFull Mode = iota
	// ModeIncremental updated a persisted graph from changed files.
	ModeIncremental
)

func (m Mode) String() string {
	if m == ModeIncremental {
		return "incremental"
	}
	return "full"
}

// Result summarizes a run.
type Result struct {
	Mode           Mode
	FallbackReason string

	ProgramClasses int
	LibraryClasses int
	Nodes          int
	Edges          int
	Seeds          map[graph.ShrinkTarget]int
	KeptClasses    map[graph.ShrinkTarget]int

	ChangedFiles    int
	ModifiedClasses []string
	Collected       int
	Written         int64
	Deleted         int64

	Phases   []utils.Phase
	Duration time.Duration

	// Store is the graph the run ended with.
	Store *graph.Store
}

func (s *Shrinker) newTimer() *utils.Timer {
	return utils.NewTimer("shrinker", utils.WithLogger(s.logger), utils.WithClock(s.clock))
}

// phase runs fn as a timed, traced step. Cancellation is reported as an
// interrupted run.
func (s *Shrinker) phase(ctx context.Context, timer *utils.Timer, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "shrinker."+name)
	defer span.End()

	pt := timer.Start(name)
	err := fn(ctx)
	d := pt.Stop()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Wrap(apperrors.CodeInterrupted, name+" interrupted", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.Debug("Phase %s finished in %v", name, d)
	if s.observer != nil {
		s.observer.PhaseFinished(name, d)
	}
	return nil
}

func (s *Shrinker) finish(res *Result, store *graph.Store, timer *utils.Timer) {
	res.Store = store
	res.Nodes = store.NodeCount()
	res.Edges = store.EdgeCount()
	res.ProgramClasses, res.LibraryClasses = store.ClassCount()
	res.Seeds = make(map[graph.ShrinkTarget]int)
	res.KeptClasses = make(map[graph.ShrinkTarget]int)
	for _, t := range graph.AllTargets {
		res.Seeds[t] = len(store.Seeds(t))
		res.KeptClasses[t] = len(store.ClassesToKeep(t))
	}
	res.Phases = timer.GetPhases()
	res.Duration = timer.TotalDuration()

	s.logger.Info("%s shrink finished in %v: %d program classes, %d kept, %d written, %d deleted",
		res.Mode, res.Duration, res.ProgramClasses, res.KeptClasses[graph.TargetShrink], res.Written, res.Deleted)
	if s.observer != nil {
		s.observer.RunFinished(res)
	}
}

// Run performs a full shrink: it empties the outputs, rebuilds the graph
// from every input and library, marks the seeds of each target, writes the
// kept classes and optionally persists the graph for incremental runs.
func (s *Shrinker) Run(ctx context.Context, layout *Layout, libraries []string, rules RuleSet, saveState bool) (*Result, error) {
	return s.run(ctx, layout, libraries, rules, saveState, "")
}

// run is Run reporting fallbackReason as the reason it was not incremental.
func (s *Shrinker) run(ctx context.Context, layout *Layout, libraries []string, rules RuleSet, saveState bool, fallbackReason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Shrinker.Run")
	defer span.End()

	timer := s.newTimer()
	res := &Result{Mode: ModeFull, FallbackReason: fallbackReason}
	store := graph.NewStore(graph.WithLogger(s.logger))
	scanner := NewScanner(store, s.pool, s.logger)
	b := newBuilder(store)

	s.logger.Info("Starting full shrink (%d input roots, %d libraries)", len(layout.Mappings), len(libraries))

	err := s.phase(ctx, timer, "clean", func(ctx context.Context) error {
		if err := layout.CleanOutputs(); err != nil {
			return err
		}
		if s.state != nil {
			if err := graph.RemoveStoredState(ctx, s.state, s.opts.StateKey); err != nil {
				s.logger.Warn("Failed to remove stored graph: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "scan", func(ctx context.Context) error {
		files, err := layout.ClassFiles()
		if err != nil {
			return err
		}
		if err := scanner.ScanProgram(ctx, files); err != nil {
			return err
		}
		return scanner.ScanLibraries(ctx, libraries)
	})
	if err != nil {
		return nil, err
	}

	program := scanner.Program()
	err = s.phase(ctx, timer, "extract", func(ctx context.Context) error {
		return parallel.ForEach(ctx, program, s.pool, func(ctx context.Context, pc *ProgramClass) error {
			return b.apply(Extract(store, pc.Class, rules))
		})
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "resolve", func(ctx context.Context) error {
		return b.resolve(ctx, s.pool)
	})
	if err != nil {
		return nil, err
	}

	if s.opts.CheckDependencies {
		err = s.phase(ctx, timer, "check", func(ctx context.Context) error {
			return store.CheckDependencies()
		})
		if err != nil {
			return nil, err
		}
	}

	engine := NewEngine(store, nil, s.logger)
	err = s.phase(ctx, timer, "mark", func(ctx context.Context) error {
		exec := parallel.NewExecutor(ctx, s.pool)
		for _, t := range graph.AllTargets {
			t := t
			exec.Go(func(ctx context.Context) error {
				return engine.MarkSeeds(ctx, t, s.pool)
			})
		}
		return exec.Wait()
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "write", func(ctx context.Context) error {
		stats, err := NewWriter(store, layout, s.pool, s.logger).WriteAll(ctx, program)
		res.Written, res.Deleted = stats.Written, stats.Deleted
		if err != nil {
			return err
		}
		return s.writeMainDexList(store, rules)
	})
	if err != nil {
		return nil, err
	}

	if saveState && s.state != nil {
		err = s.phase(ctx, timer, "save", func(ctx context.Context) error {
			return store.Save(ctx, s.state, s.opts.StateKey)
		})
		if err != nil {
			return nil, err
		}
	}

	s.finish(res, store, timer)
	span.SetAttributes(
		attribute.Int("classes.program", res.ProgramClasses),
		attribute.Int("classes.kept", res.KeptClasses[graph.TargetShrink]),
		attribute.Int("graph.edges", res.Edges),
	)
	return res, nil
}

func (s *Shrinker) writeMainDexList(store *graph.Store, rules RuleSet) error {
	if s.opts.MainDexListPath == "" || rules[graph.TargetLegacyMultidex] == nil {
		return nil
	}
	n, err := WriteMainDexList(store, s.opts.MainDexListPath)
	if err != nil {
		return err
	}
	s.logger.Info("Main dex list has %d classes", n)
	return nil
}

// builder applies extractions to a store during a full run and collects
// the work of the resolution phase.
type builder struct {
	store *graph.Store

	mu         sync.Mutex
	virtual    []graph.Member
	unresolved []graph.UnresolvedReference
}

func newBuilder(store *graph.Store) *builder {
	return &builder{store: store}
}

func (b *builder) apply(x *Extraction) error {
	for _, e := range x.Edges {
		b.store.Reference(e.Target.Class, e.Target.Name, e.Target.Desc)
		if err := b.store.AddDependency(e.Source, e.Dependency); err != nil {
			return err
		}
	}
	for t, seeds := range x.Seeds {
		for _, m := range seeds {
			if _, err := b.store.AddSeed(m, t); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	b.virtual = append(b.virtual, x.Virtual...)
	b.unresolved = append(b.unresolved, x.Unresolved...)
	b.mu.Unlock()
	return nil
}

// resolve runs override propagation and reference resolution concurrently.
func (b *builder) resolve(ctx context.Context, pool parallel.PoolConfig) error {
	sort.Slice(b.virtual, func(i, j int) bool { return b.virtual[i].String() < b.virtual[j].String() })

	exec := parallel.NewExecutor(ctx, parallel.PoolConfig{MaxWorkers: 2})
	exec.Go(func(ctx context.Context) error {
		return parallel.ForEach(ctx, b.virtual, pool, func(ctx context.Context, m graph.Member) error {
			for _, e := range OverrideEdges(b.store, m) {
				if err := b.store.AddDependency(e.Source, e.Dependency); err != nil {
					return err
				}
			}
			return nil
		})
	})
	exec.Go(func(ctx context.Context) error {
		return parallel.ForEach(ctx, b.unresolved, pool, func(ctx context.Context, ref graph.UnresolvedReference) error {
			if e, ok := Resolve(b.store, ref); ok {
				return b.store.AddDependency(e.Source, e.Dependency)
			}
			return nil
		})
	})
	return exec.Wait()
}
