package shrinker

import (
	"context"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/keep"
	"github.com/class-shrinker/pkg/collections"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/parallel"
)

// FileStatus is the kind of change an input file went through since the
// last run.
type FileStatus int

const (
	// StatusAdded is a new class file.
	StatusAdded FileStatus = iota
	// StatusChanged is a class file whose content changed.
	StatusChanged
	// StatusRemoved is a deleted class file.
	StatusRemoved
)

func (s FileStatus) String() string {
	switch s {
	case StatusAdded:
		return "ADDED"
	case StatusChanged:
		return "CHANGED"
	case StatusRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// HandleFileChanges updates the persisted graph with changed program files
// and re-emits the classes whose output changed. It returns an error
// matching apperrors.ErrIncrementalImpossible when the changes cannot be
// applied incrementally; the caller must then perform a full Run.
func (s *Shrinker) HandleFileChanges(ctx context.Context, layout *Layout, changes map[string]FileStatus, rules RuleSet) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Shrinker.HandleFileChanges")
	defer span.End()
	span.SetAttributes(attribute.Int("files.changed", len(changes)))

	if s.state == nil {
		return nil, apperrors.New(apperrors.CodeIncrementalImpossible, "no state store configured")
	}
	files := make([]string, 0, len(changes))
	for f, st := range changes {
		if st == StatusAdded {
			return nil, apperrors.Todo("added file " + f)
		}
		files = append(files, f)
	}
	sort.Strings(files)

	timer := s.newTimer()
	res := &Result{Mode: ModeIncremental, ChangedFiles: len(files)}
	s.logger.Info("Starting incremental shrink (%d changed files)", len(files))

	var store *graph.Store
	err := s.phase(ctx, timer, "load", func(ctx context.Context) error {
		var err error
		store, err = graph.Load(ctx, s.state, s.opts.StateKey, graph.WithLogger(s.logger))
		return err
	})
	if err != nil {
		return nil, err
	}

	u := newUpdater(store, layout, rules, s)
	err = s.phase(ctx, timer, "update", func(ctx context.Context) error {
		updates, err := u.prepare(ctx, files, changes)
		if err != nil {
			return err
		}
		// Counter updates of one file must not interleave with those of
		// another: an edge counted for a reachable source could otherwise be
		// withdrawn by a concurrent cascade before it was added.
		for _, fu := range updates {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := u.apply(fu); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "collect", func(ctx context.Context) error {
		for _, t := range graph.AllTargets {
			n, err := u.engine.CollectCycles(t)
			if err != nil {
				return err
			}
			res.Collected += n
		}
		return u.checkRemoved()
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "write", func(ctx context.Context) error {
		classes, err := u.classesToWrite()
		if err != nil {
			return err
		}
		for _, pc := range classes {
			res.ModifiedClasses = append(res.ModifiedClasses, pc.Class.Name)
		}
		stats, err := u.writer.WriteAll(ctx, classes)
		res.Written, res.Deleted = stats.Written, stats.Deleted+int64(u.removed.Len())
		if err != nil {
			return err
		}
		return s.writeMainDexList(store, rules)
	})
	if err != nil {
		return nil, err
	}

	err = s.phase(ctx, timer, "save", func(ctx context.Context) error {
		return store.Save(ctx, s.state, s.opts.StateKey)
	})
	if err != nil {
		return nil, err
	}

	s.finish(res, store, timer)
	span.SetAttributes(attribute.Int("classes.modified", len(res.ModifiedClasses)))
	return res, nil
}

// updater applies file changes to a loaded graph.
type updater struct {
	store  *graph.Store
	rules  RuleSet
	engine *Engine
	writer *Writer
	pool   parallel.PoolConfig

	modified *collections.ConcurrentSet[string]
	removed  *collections.ConcurrentSet[string]

	mu      sync.Mutex
	decoded map[string]*ProgramClass
}

func newUpdater(store *graph.Store, layout *Layout, rules RuleSet, s *Shrinker) *updater {
	u := &updater{
		store:    store,
		rules:    rules,
		writer:   NewWriter(store, layout, s.pool, s.logger),
		pool:     s.pool,
		modified: collections.NewConcurrentSet[string](),
		removed:  collections.NewConcurrentSet[string](),
		decoded:  make(map[string]*ProgramClass),
	}
	u.engine = NewEngine(store, func(m graph.Member, _ graph.ShrinkTarget, _ bool) {
		u.modified.Add(m.Class)
	}, s.logger)
	return u
}

func (u *updater) classOf(file string) (string, error) {
	class, ok := u.store.ClassForFile(file)
	if !ok {
		return "", apperrors.Todo("file " + file + " was not part of the previous run")
	}
	return class, nil
}

// sources returns the class node followed by its declared members.
func (u *updater) sources(class string) []graph.Member {
	return append([]graph.Member{graph.ClassMember(class)}, u.store.Members(class)...)
}

// fileUpdate is the edge and seed delta of one changed or removed file.
type fileUpdate struct {
	file    string
	class   string
	removed bool

	decoded *ProgramClass
	x       *Extraction
	sources []graph.Member
	added   []graph.Edge
	dropped []graph.Edge
}

// prepare decodes the changed files and computes their edge deltas in
// parallel. It only reads the graph.
func (u *updater) prepare(ctx context.Context, files []string, changes map[string]FileStatus) ([]*fileUpdate, error) {
	updates := make([]*fileUpdate, len(files))
	idx := make([]int, len(files))
	for i := range idx {
		idx[i] = i
	}
	err := parallel.ForEach(ctx, idx, u.pool, func(ctx context.Context, i int) error {
		file := files[i]
		class, err := u.classOf(file)
		if err != nil {
			return err
		}
		if changes[file] == StatusRemoved {
			updates[i] = &fileUpdate{file: file, class: class, removed: true, sources: u.sources(class)}
			return nil
		}
		fu, err := u.diffFile(file, class)
		updates[i] = fu
		return err
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}

func (u *updater) diffFile(file, class string) (*fileUpdate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to read "+file, err)
	}
	c, err := classfile.Decode(data, classfile.DecodeFull)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to decode "+file, err)
	}
	if err := u.checkStructure(class, c); err != nil {
		return nil, err
	}

	for _, r := range u.rules {
		if r != nil {
			keep.Invalidate(r, class)
		}
	}
	x := Extract(u.store, c, u.rules)
	wanted := u.wantedEdges(x)

	fu := &fileUpdate{
		file:    file,
		class:   class,
		decoded: &ProgramClass{Class: c, File: file},
		x:       x,
		sources: u.sources(class),
	}
	for _, src := range fu.sources {
		have := make(map[graph.Dependency]bool)
		for _, d := range u.store.Dependencies(src) {
			if d.Type == graph.IsOverridden {
				continue
			}
			have[d] = true
			if !wanted[src][d] {
				fu.dropped = append(fu.dropped, graph.Edge{Source: src, Dependency: d})
			}
		}
		for d := range wanted[src] {
			if !have[d] {
				fu.added = append(fu.added, graph.Edge{Source: src, Dependency: d})
			}
		}
	}
	return fu, nil
}

// apply writes one file's delta into the graph and propagates the counter
// changes.
func (u *updater) apply(fu *fileUpdate) error {
	if fu.removed {
		return u.removeClass(fu)
	}
	// Additions first so shared targets do not drop out transiently.
	for _, e := range fu.added {
		u.store.Reference(e.Target.Class, e.Target.Name, e.Target.Desc)
		if err := u.engine.AddEdge(e); err != nil {
			return err
		}
	}
	for _, e := range fu.dropped {
		if err := u.engine.RemoveEdge(e); err != nil {
			return err
		}
	}
	if err := u.updateSeeds(fu.sources, fu.x); err != nil {
		return err
	}

	u.mu.Lock()
	u.decoded[fu.class] = fu.decoded
	u.mu.Unlock()
	return nil
}

// checkStructure refuses changes to the hierarchy or member set of a class.
func (u *updater) checkStructure(class string, c *classfile.Class) error {
	if c.Name != class {
		return apperrors.Todo("class renamed from " + class + " to " + c.Name)
	}
	super, _ := u.store.Superclass(class)
	if super != c.SuperName || !equalStrings(u.store.Interfaces(class), c.Interfaces) {
		return apperrors.Todo("supertypes of " + class + " changed")
	}

	declared := make(map[graph.Member]bool)
	for _, m := range u.store.Members(class) {
		declared[m] = true
	}
	n := 0
	for _, members := range [][]*classfile.Member{c.Fields, c.Methods} {
		for _, m := range members {
			if !declared[graph.Member{Class: class, Name: m.Name, Desc: m.Desc}] {
				return apperrors.Todo("member " + m.Name + m.Desc + " added to " + class)
			}
			n++
		}
	}
	if n != len(declared) {
		return apperrors.Todo("member removed from " + class)
	}
	return nil
}

// wantedEdges is the edge set a changed class should have, keyed by source.
// Edges marking its methods as overridden belong to the subclasses and are
// left alone.
func (u *updater) wantedEdges(x *Extraction) map[graph.Member]map[graph.Dependency]bool {
	wanted := make(map[graph.Member]map[graph.Dependency]bool)
	add := func(e graph.Edge) {
		if wanted[e.Source] == nil {
			wanted[e.Source] = make(map[graph.Dependency]bool)
		}
		wanted[e.Source][e.Dependency] = true
	}
	for _, e := range x.Edges {
		add(e)
	}
	for _, ref := range x.Unresolved {
		if e, ok := Resolve(u.store, ref); ok {
			add(e)
		}
	}
	self := graph.ClassMember(x.Class)
	for _, m := range x.Virtual {
		for _, e := range OverrideEdges(u.store, m) {
			if e.Source == self {
				add(e)
			}
		}
	}
	return wanted
}

func (u *updater) updateSeeds(sources []graph.Member, x *Extraction) error {
	for _, t := range graph.AllTargets {
		want := make(map[graph.Member]bool)
		for _, m := range x.Seeds[t] {
			want[m] = true
		}
		for _, m := range sources {
			switch {
			case want[m]:
				added, err := u.store.AddSeed(m, t)
				if err != nil {
					return err
				}
				if added {
					if err := u.engine.Increment(m, graph.Required, t); err != nil {
						return err
					}
				}
			case u.store.RemoveSeed(m, t):
				if err := u.engine.Decrement(m, graph.Required, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (u *updater) removeClass(fu *fileUpdate) error {
	class, sources := fu.class, fu.sources
	for _, t := range graph.AllTargets {
		for _, m := range sources {
			if u.store.RemoveSeed(m, t) {
				if err := u.engine.Decrement(m, graph.Required, t); err != nil {
					return err
				}
			}
		}
	}
	for _, src := range sources {
		for _, d := range u.store.Dependencies(src) {
			if err := u.engine.RemoveEdge(graph.Edge{Source: src, Dependency: d}); err != nil {
				return err
			}
		}
	}
	if err := u.store.MarkRemoved(class); err != nil {
		return err
	}
	if err := u.writer.DeleteOutput(fu.file); err != nil {
		return err
	}
	u.removed.Add(class)
	return nil
}

// checkRemoved fails if anything still reaches a removed class: the rest of
// the program was not recompiled against its removal.
func (u *updater) checkRemoved() error {
	for _, class := range u.removed.Values() {
		for _, m := range u.sources(class) {
			for _, t := range graph.AllTargets {
				if u.store.IsReachable(m, t) {
					return apperrors.Todo("removed " + m.String() + " is still reachable for " + t.String())
				}
			}
		}
	}
	return nil
}

// classesToWrite returns the changed classes, the classes whose reachable
// members changed and the implementors of those, ordered by name.
func (u *updater) classesToWrite() ([]*ProgramClass, error) {
	names := make(map[string]bool)
	for name := range u.decoded {
		names[name] = true
	}
	modified := u.modified.Values()
	if len(modified) > 0 {
		touched := make(map[string]bool, len(modified))
		for _, name := range modified {
			touched[name] = true
			names[name] = true
		}
		for _, name := range u.store.ProgramClasses() {
			for _, iface := range u.store.Interfaces(name) {
				if touched[iface] {
					names[name] = true
				}
			}
		}
	}

	var out []*ProgramClass
	for name := range names {
		if !u.store.IsProgramClass(name) || u.store.IsRemoved(name) {
			continue
		}
		pc, err := u.programClass(name)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class.Name < out[j].Class.Name })
	return out, nil
}

func (u *updater) programClass(name string) (*ProgramClass, error) {
	if pc, ok := u.decoded[name]; ok {
		return pc, nil
	}
	file, ok := u.store.ClassFile(name)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInconsistentGraph, "program class %s has no file", name)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to read "+file, err)
	}
	c, err := classfile.Decode(data, classfile.DecodeSkipCode)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to decode "+file, err)
	}
	return &ProgramClass{Class: c, File: file}, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
