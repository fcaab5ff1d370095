// Package keep decides which classes and members are entry points of the
// shrinker, from ProGuard-style keep rules or from code.
package keep

import (
	"github.com/class-shrinker/internal/classfile"
)

// Decision is the outcome of evaluating keep rules for a class or member.
type Decision uint8

const (
	// Discard leaves the decision to reachability.
	Discard Decision = iota
	// KeepIfClassKept keeps a member as long as its class survives.
	KeepIfClassKept
	// Keep makes the class or member an entry point.
	Keep
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case KeepIfClassKept:
		return "keep-if-class-kept"
	default:
		return "discard"
	}
}

// Hierarchy answers supertype queries for extends/implements clauses.
type Hierarchy interface {
	Superclass(class string) (string, bool)
	Interfaces(class string) []string
}

// Rules evaluates keep rules. m is nil when the class itself is evaluated.
// Implementations must be safe for concurrent use.
type Rules interface {
	Evaluate(h Hierarchy, c *classfile.Class, m *classfile.Member) Decision
}

// Invalidator is implemented by rules that cache per-class results.
type Invalidator interface {
	Invalidate(class string)
}

// Invalidate drops cached results of class if r caches any.
func Invalidate(r Rules, class string) {
	if inv, ok := r.(Invalidator); ok {
		inv.Invalidate(class)
	}
}

// Func adapts a plain function to Rules.
type Func func(c *classfile.Class, m *classfile.Member) Decision

// Evaluate calls f.
func (f Func) Evaluate(_ Hierarchy, c *classfile.Class, m *classfile.Member) Decision {
	return f(c, m)
}

// None keeps nothing.
var None Rules = Func(func(*classfile.Class, *classfile.Member) Decision { return Discard })

// Combine returns rules whose decision is the strongest of all parts.
func Combine(parts ...Rules) Rules {
	return combined(parts)
}

type combined []Rules

func (rs combined) Evaluate(h Hierarchy, c *classfile.Class, m *classfile.Member) Decision {
	best := Discard
	for _, r := range rs {
		if d := r.Evaluate(h, c, m); d > best {
			best = d
			if best == Keep {
				break
			}
		}
	}
	return best
}

func (rs combined) Invalidate(class string) {
	for _, r := range rs {
		Invalidate(r, class)
	}
}

// Supertypes returns every ancestor of class: the superclass chain first,
// then interfaces breadth-first. Unknown classes end the walk.
func Supertypes(h Hierarchy, class string) []string {
	var out []string
	seen := map[string]bool{class: true}
	queue := []string{class}
	for c := class; ; {
		super, ok := h.Superclass(c)
		if !ok || seen[super] {
			break
		}
		seen[super] = true
		out = append(out, super)
		queue = append(queue, super)
		c = super
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, iface := range h.Interfaces(c) {
			if seen[iface] {
				continue
			}
			seen[iface] = true
			out = append(out, iface)
			queue = append(queue, iface)
		}
	}
	return out
}
