package graph

import (
	"fmt"
	"strings"

	apperrors "github.com/class-shrinker/pkg/errors"
)

const maxReportedProblems = 20

// CheckDependencies validates the structural invariants of the graph: every
// program member's class is registered, every declared member is listed by
// its class, and no edge leaves a removed class. It returns an error
// matching apperrors.ErrInconsistentGraph with the problem count and the
// first problems found.
func (s *Store) CheckDependencies() error {
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, name := range s.ProgramClasses() {
		for _, m := range s.Members(name) {
			if !s.IsDeclared(m) {
				report("%s is listed by its class but not declared", m)
			}
		}
		if s.IsRemoved(name) {
			continue
		}
		if _, ok := s.ClassFile(name); !ok {
			report("program class %s has no input file", name)
		}
	}

	s.ForEachEdge(func(src Member, dep Dependency) bool {
		if !s.Contains(dep.Target) {
			report("edge %s -> %s targets a missing node", src, dep.Target)
		}
		if s.IsRemoved(src.Class) {
			report("removed class member %s still has edge to %s", src, dep.Target)
		}
		if dep.Type == NeededForInheritance && !src.IsClass() {
			report("%s edge from non-class %s", dep.Type, src)
		}
		return true
	})

	for _, m := range s.Nodes() {
		if m.IsClass() || !s.IsDeclared(m) {
			continue
		}
		if !s.HasClass(m.Class) {
			report("member %s declared by unregistered class", m)
		}
	}

	for _, t := range AllTargets {
		for _, m := range s.Seeds(t) {
			if s.IsRemoved(m.Class) {
				report("removed member %s is still a %s seed", m, t)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	total := len(problems)
	if total > maxReportedProblems {
		problems = problems[:maxReportedProblems]
	}
	return apperrors.Newf(apperrors.CodeInconsistentGraph, "%d problems: %s",
		total, strings.Join(problems, "; "))
}
