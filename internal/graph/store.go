package graph

import (
	"sort"
	"sync"

	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/utils"
)

// node is one vertex of the graph. Its mutex guards deps and counters so a
// counter transition and the snapshot of outgoing edges happen atomically.
type node struct {
	id       int
	member   Member
	declared bool

	mu       sync.Mutex
	deps     map[Dependency]struct{}
	counters [numTargets]Counters
}

// classInfo is the hierarchy metadata of a scanned class.
type classInfo struct {
	name       string
	super      string
	interfaces []string
	library    bool
	file       string
	members    []Member
	removed    bool
}

// Store is the concurrent dependency graph shared by all shrinker phases.
//
// Node and class registration take the store lock; edge and counter updates
// only take the lock of the node they touch.
type Store struct {
	mu      sync.RWMutex
	nodes   map[Member]*node
	byID    []*node
	classes map[string]*classInfo
	files   map[string]string

	seedMu sync.Mutex
	seeds  [numTargets]map[Member]struct{}

	logger utils.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(l utils.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore returns an empty graph.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		nodes:   make(map[Member]*node),
		classes: make(map[string]*classInfo),
		files:   make(map[string]string),
		logger:  &utils.NullLogger{},
	}
	for i := range s.seeds {
		s.seeds[i] = make(map[Member]struct{})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// internLocked returns the node for m, creating it if needed. s.mu must be
// held for writing.
func (s *Store) internLocked(m Member, declared bool) *node {
	n, ok := s.nodes[m]
	if !ok {
		n = &node{id: len(s.byID), member: m, deps: make(map[Dependency]struct{})}
		s.nodes[m] = n
		s.byID = append(s.byID, n)
	}
	if declared {
		n.declared = true
	}
	return n
}

func (s *Store) lookup(m Member) (*node, bool) {
	s.mu.RLock()
	n, ok := s.nodes[m]
	s.mu.RUnlock()
	return n, ok
}

func (s *Store) mustLookup(m Member) (*node, error) {
	n, ok := s.lookup(m)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInconsistentGraph, "unknown node %s", m)
	}
	return n, nil
}

// AddClass registers a class with its direct supertypes. Registering the same
// class again is a no-op as long as the hierarchy agrees; a program
// definition replaces a library one.
func (s *Store) AddClass(name, super string, interfaces []string, library bool, file string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ci, ok := s.classes[name]; ok {
		if ci.super != super || !sameStrings(ci.interfaces, interfaces) {
			return Member{}, apperrors.Newf(apperrors.CodeInconsistentGraph,
				"class %s registered twice with different supertypes", name)
		}
		if ci.library && !library {
			ci.library = false
			ci.file = file
			s.files[file] = name
		}
		return s.internLocked(ClassMember(name), true).member, nil
	}

	s.classes[name] = &classInfo{
		name:       name,
		super:      super,
		interfaces: append([]string(nil), interfaces...),
		library:    library,
		file:       file,
	}
	if !library && file != "" {
		s.files[file] = name
	}
	return s.internLocked(ClassMember(name), true).member, nil
}

// AddMember registers a method or field declared by an already registered
// class.
func (s *Store) AddMember(class, name, desc string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ci, ok := s.classes[class]
	if !ok {
		return Member{}, apperrors.Newf(apperrors.CodeInconsistentGraph,
			"member %s.%s%s declared by unregistered class", class, name, desc)
	}
	m := Member{Class: class, Name: name, Desc: desc}
	n := s.internLocked(m, false)
	if !n.declared {
		n.declared = true
		ci.members = append(ci.members, m)
	}
	return m, nil
}

// Reference returns the node key for a member or class that is referenced
// but possibly not declared by any scanned class.
func (s *Store) Reference(class, name, desc string) Member {
	m := Member{Class: class, Name: name, Desc: desc}
	if _, ok := s.lookup(m); ok {
		return m
	}
	s.mu.Lock()
	s.internLocked(m, false)
	s.mu.Unlock()
	return m
}

// Contains reports whether m has a node.
func (s *Store) Contains(m Member) bool {
	_, ok := s.lookup(m)
	return ok
}

// IsDeclared reports whether m is a class or member defined by a scanned
// class file.
func (s *Store) IsDeclared(m Member) bool {
	n, ok := s.lookup(m)
	return ok && n.declared
}

// ID returns the dense id of m, or -1 if it has no node.
func (s *Store) ID(m Member) int {
	if n, ok := s.lookup(m); ok {
		return n.id
	}
	return -1
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// AddDependency records the edge src -> dep. Both ends must exist.
func (s *Store) AddDependency(src Member, dep Dependency) error {
	_, err := s.addDependency(src, dep)
	return err
}

// AddDependencyLive records the edge and returns the targets for which src
// is currently reachable. Nothing is returned if the edge already existed.
// The caller must propagate an increment to dep.Target for each returned
// target.
func (s *Store) AddDependencyLive(src Member, dep Dependency) ([]ShrinkTarget, error) {
	return s.addDependency(src, dep)
}

func (s *Store) addDependency(src Member, dep Dependency) ([]ShrinkTarget, error) {
	n, err := s.mustLookup(src)
	if err != nil {
		return nil, err
	}
	if !s.Contains(dep.Target) {
		return nil, apperrors.Newf(apperrors.CodeInconsistentGraph,
			"edge %s -> %s targets unknown node", src, dep.Target)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.deps[dep]; ok {
		return nil, nil
	}
	n.deps[dep] = struct{}{}
	return n.reachableTargets(), nil
}

// RemoveDependency deletes the edge src -> dep if present.
func (s *Store) RemoveDependency(src Member, dep Dependency) {
	_, _ = s.RemoveDependencyLive(src, dep)
}

// RemoveDependencyLive deletes the edge and returns the targets for which src
// is currently reachable. Nothing is returned if there was no such edge.
// The caller must propagate a decrement to dep.Target for each returned
// target.
func (s *Store) RemoveDependencyLive(src Member, dep Dependency) ([]ShrinkTarget, error) {
	n, err := s.mustLookup(src)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.deps[dep]; !ok {
		return nil, nil
	}
	delete(n.deps, dep)
	return n.reachableTargets(), nil
}

func (n *node) reachableTargets() []ShrinkTarget {
	var targets []ShrinkTarget
	for _, t := range AllTargets {
		if n.counters[t].Reachable() {
			targets = append(targets, t)
		}
	}
	return targets
}

func (n *node) snapshot() []Dependency {
	deps := make([]Dependency, 0, len(n.deps))
	for d := range n.deps {
		deps = append(deps, d)
	}
	return deps
}

// Dependencies returns the outgoing edges of m in a stable order.
func (s *Store) Dependencies(m Member) []Dependency {
	n, ok := s.lookup(m)
	if !ok {
		return nil
	}
	n.mu.Lock()
	deps := n.snapshot()
	n.mu.Unlock()
	sortDependencies(deps)
	return deps
}

func sortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		a, b := deps[i], deps[j]
		if a.Target != b.Target {
			return lessMember(a.Target, b.Target)
		}
		return a.Type < b.Type
	})
}

func lessMember(a, b Member) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Desc < b.Desc
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	nodes := append([]*node(nil), s.byID...)
	s.mu.RUnlock()

	total := 0
	for _, n := range nodes {
		n.mu.Lock()
		total += len(n.deps)
		n.mu.Unlock()
	}
	return total
}

// IncrementAndCheck increments the counter of m for (typ, target). When m
// becomes reachable it returns true together with a snapshot of its outgoing
// edges, taken under the same lock as the transition.
func (s *Store) IncrementAndCheck(m Member, typ DependencyType, target ShrinkTarget) (bool, []Dependency, error) {
	n, err := s.mustLookup(m)
	if err != nil {
		return false, nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &n.counters[target]
	before := c.Reachable()
	c[typ]++
	if !before && c.Reachable() {
		return true, n.snapshot(), nil
	}
	return false, nil, nil
}

// DecrementAndCheck decrements the counter of m for (typ, target). When m
// stops being reachable it returns true with a snapshot of its outgoing
// edges.
func (s *Store) DecrementAndCheck(m Member, typ DependencyType, target ShrinkTarget) (bool, []Dependency, error) {
	n, err := s.mustLookup(m)
	if err != nil {
		return false, nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &n.counters[target]
	if c[typ] <= 0 {
		return false, nil, apperrors.Newf(apperrors.CodeInconsistentGraph,
			"%s counter of %s for %s would drop below zero", typ, m, target)
	}
	before := c.Reachable()
	c[typ]--
	if before && !c.Reachable() {
		return true, n.snapshot(), nil
	}
	return false, nil, nil
}

// Counters returns the counters of m for target.
func (s *Store) Counters(m Member, target ShrinkTarget) Counters {
	n, ok := s.lookup(m)
	if !ok {
		return Counters{}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counters[target]
}

// SetCounters overwrites the counters of m for target. It is meant for
// single-threaded recomputation after a cycle collection.
func (s *Store) SetCounters(m Member, target ShrinkTarget, c Counters) error {
	n, err := s.mustLookup(m)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.counters[target] = c
	n.mu.Unlock()
	return nil
}

// IsReachable reports whether m is reachable for target.
func (s *Store) IsReachable(m Member, target ShrinkTarget) bool {
	return s.Counters(m, target).Reachable()
}

// ResetCounters zeroes every counter of target.
func (s *Store) ResetCounters(target ShrinkTarget) {
	s.mu.RLock()
	nodes := append([]*node(nil), s.byID...)
	s.mu.RUnlock()
	for _, n := range nodes {
		n.mu.Lock()
		n.counters[target] = Counters{}
		n.mu.Unlock()
	}
}

// AddSeed marks m as an entry point for target. It returns false if m already
// was one.
func (s *Store) AddSeed(m Member, target ShrinkTarget) (bool, error) {
	if !s.Contains(m) {
		return false, apperrors.Newf(apperrors.CodeInconsistentGraph, "seed %s has no node", m)
	}
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if _, ok := s.seeds[target][m]; ok {
		return false, nil
	}
	s.seeds[target][m] = struct{}{}
	return true, nil
}

// RemoveSeed unmarks m as an entry point. It returns false if m was not one.
func (s *Store) RemoveSeed(m Member, target ShrinkTarget) bool {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if _, ok := s.seeds[target][m]; !ok {
		return false
	}
	delete(s.seeds[target], m)
	return true
}

// IsSeed reports whether m is an entry point for target.
func (s *Store) IsSeed(m Member, target ShrinkTarget) bool {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	_, ok := s.seeds[target][m]
	return ok
}

// Seeds returns the entry points of target in a stable order.
func (s *Store) Seeds(target ShrinkTarget) []Member {
	s.seedMu.Lock()
	seeds := make([]Member, 0, len(s.seeds[target]))
	for m := range s.seeds[target] {
		seeds = append(seeds, m)
	}
	s.seedMu.Unlock()
	sort.Slice(seeds, func(i, j int) bool { return lessMember(seeds[i], seeds[j]) })
	return seeds
}

// ForEachEdge calls fn for every edge until fn returns false.
func (s *Store) ForEachEdge(fn func(src Member, dep Dependency) bool) {
	s.mu.RLock()
	nodes := append([]*node(nil), s.byID...)
	s.mu.RUnlock()
	for _, n := range nodes {
		n.mu.Lock()
		deps := n.snapshot()
		n.mu.Unlock()
		sortDependencies(deps)
		for _, d := range deps {
			if !fn(n.member, d) {
				return
			}
		}
	}
}

// Nodes returns every node key in id order.
func (s *Store) Nodes() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, len(s.byID))
	for i, n := range s.byID {
		out[i] = n.member
	}
	return out
}

func sameStrings(a, b []string) bool {
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
