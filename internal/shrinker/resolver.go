package shrinker

import (
	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/collections"
)

// Hierarchy is the read-only class model used by extraction and resolution.
// *graph.Store implements it.
type Hierarchy interface {
	Superclass(class string) (string, bool)
	Interfaces(class string) []string
	FindMatchingMember(class, name, desc string) (graph.Member, bool)
	IsLibraryMember(m graph.Member) bool
	IsDeclared(m graph.Member) bool
}

// OverrideEdges walks the ancestors of method's class, nearest first and
// superclass before interfaces, and returns the edges that keep method
// alive as an override. A branch of the walk stops at the first class
// declaring a matching method:
//
//   - a library match makes method required by its class;
//   - a program match makes method needed for inheritance by its class,
//     and marks the matched method as overridden by method.
func OverrideEdges(h Hierarchy, method graph.Member) []graph.Edge {
	w := &overrideWalk{h: h, method: method, visited: make(map[string]bool)}
	w.walk(method.Class)
	return w.edges
}

type overrideWalk struct {
	h       Hierarchy
	method  graph.Member
	visited map[string]bool
	edges   []graph.Edge
}

func (w *overrideWalk) walk(class string) {
	if w.visited[class] {
		return
	}
	w.visited[class] = true

	match, ok := w.h.FindMatchingMember(class, w.method.Name, w.method.Desc)
	if ok && match != w.method {
		owner := w.method.Owner()
		if w.h.IsLibraryMember(match) {
			w.edges = append(w.edges, graph.NewEdge(owner, w.method, graph.Required))
		} else {
			w.edges = append(w.edges,
				graph.NewEdge(owner, w.method, graph.NeededForInheritance),
				graph.NewEdge(match, w.method, graph.IsOverridden))
		}
		return
	}

	if super, ok := w.h.Superclass(class); ok {
		w.walk(super)
	}
	for _, iface := range w.h.Interfaces(class) {
		w.walk(iface)
	}
}

// Resolve binds an unresolved reference to the member it denotes at run
// time. The search starts at the referenced owner, or at the superclass of
// the caller's class for invokespecial, and walks the superclass chain; if
// the chain has no match the superinterfaces are searched breadth-first.
// Matches in library classes produce no edge, and neither does a reference
// that matches nothing.
func Resolve(h Hierarchy, ref graph.UnresolvedReference) (graph.Edge, bool) {
	start := ref.Target.Class
	if ref.Opcode == classfile.OpInvokeSpecial {
		super, ok := h.Superclass(ref.Method.Class)
		if !ok {
			return graph.Edge{}, false
		}
		start = super
	}

	match, ok := findInSuperclasses(h, start, ref.Target)
	if !ok {
		match, ok = findInInterfaces(h, start, ref.Target)
	}
	if !ok || h.IsLibraryMember(match) {
		return graph.Edge{}, false
	}
	return graph.NewEdge(ref.Method, match, graph.Required), true
}

func findInSuperclasses(h Hierarchy, start string, target graph.Member) (graph.Member, bool) {
	seen := make(map[string]bool)
	for class, ok := start, true; ok && !seen[class]; class, ok = h.Superclass(class) {
		seen[class] = true
		if m, found := h.FindMatchingMember(class, target.Name, target.Desc); found {
			return m, true
		}
	}
	return graph.Member{}, false
}

func findInInterfaces(h Hierarchy, start string, target graph.Member) (graph.Member, bool) {
	queue := collections.NewQueue[string](8)
	seen := make(map[string]bool)
	for class, ok := start, true; ok && !seen[class]; class, ok = h.Superclass(class) {
		seen[class] = true
		queue.Enqueue(h.Interfaces(class)...)
	}
	for iface, ok := queue.Dequeue(); ok; iface, ok = queue.Dequeue() {
		if seen[iface] {
			continue
		}
		seen[iface] = true
		if m, found := h.FindMatchingMember(iface, target.Name, target.Desc); found {
			return m, true
		}
		queue.Enqueue(h.Interfaces(iface)...)
	}
	return graph.Member{}, false
}
