// Package graph holds the shrinker's dependency graph: members, typed edges
// between them, class hierarchy metadata and per-target reference counters.
package graph

import (
	"fmt"
	"strings"
)

// Member identifies a class, method or field. A class key has an empty Name
// and Desc. Methods have a Desc starting with '('.
type Member struct {
	Class string
	Name  string
	Desc  string
}

// ClassMember returns the key of a class.
func ClassMember(name string) Member {
	return Member{Class: name}
}

// IsClass reports whether m denotes a class.
func (m Member) IsClass() bool { return m.Name == "" }

// IsMethod reports whether m denotes a method.
func (m Member) IsMethod() bool { return strings.HasPrefix(m.Desc, "(") }

// IsField reports whether m denotes a field.
func (m Member) IsField() bool { return m.Name != "" && !m.IsMethod() }

// Owner returns the key of the class declaring m.
func (m Member) Owner() Member { return ClassMember(m.Class) }

// String renders com/example/Foo, com/example/Foo.bar()V or
// com/example/Foo.baz:I.
func (m Member) String() string {
	switch {
	case m.IsClass():
		return m.Class
	case m.IsMethod():
		return m.Class + "." + m.Name + m.Desc
	default:
		return m.Class + "." + m.Name + ":" + m.Desc
	}
}

// DependencyType is the semantics of an edge.
type DependencyType uint8

const (
	// Required means the target is needed whenever the source is reachable.
	Required DependencyType = iota
	// NeededForInheritance points from a class to a method overriding a
	// program method; it keeps the override while the class survives.
	NeededForInheritance
	// IsOverridden points from an overridden method to its override.
	IsOverridden

	numDependencyTypes = 3
)

// String returns the dependency type name.
func (t DependencyType) String() string {
	switch t {
	case Required:
		return "REQUIRED"
	case NeededForInheritance:
		return "NEEDED_FOR_INHERITANCE"
	case IsOverridden:
		return "IS_OVERRIDDEN"
	default:
		return fmt.Sprintf("DependencyType(%d)", uint8(t))
	}
}

// ShrinkTarget selects an independent set of counters over the shared graph.
type ShrinkTarget uint8

const (
	// TargetShrink computes the classes and members written to the output.
	TargetShrink ShrinkTarget = iota
	// TargetLegacyMultidex computes the main dex list.
	TargetLegacyMultidex

	numTargets = 2
)

// AllTargets lists every shrink target.
var AllTargets = []ShrinkTarget{TargetShrink, TargetLegacyMultidex}

// String returns the target name.
func (t ShrinkTarget) String() string {
	switch t {
	case TargetShrink:
		return "shrink"
	case TargetLegacyMultidex:
		return "legacy_multidex"
	default:
		return fmt.Sprintf("ShrinkTarget(%d)", uint8(t))
	}
}

// Dependency is the outgoing half of an edge.
type Dependency struct {
	Target Member
	Type   DependencyType
}

// Edge is a complete edge.
type Edge struct {
	Source Member
	Dependency
}

// NewEdge builds an edge.
func NewEdge(src, target Member, typ DependencyType) Edge {
	return Edge{Source: src, Dependency: Dependency{Target: target, Type: typ}}
}

// UnresolvedReference is a call site or field access whose target may be
// inherited; it is bound to a declared member once the hierarchy is known.
type UnresolvedReference struct {
	Method Member // the referencing method
	Target Member // owner, name and descriptor as written at the call site
	Opcode uint8
}

// Counters holds one member's counts per dependency type for one target.
type Counters [numDependencyTypes]int32

// Reachable reports whether the counts make a member reachable: it is
// required, or it is an override whose class survives while the overridden
// method is reachable.
func (c Counters) Reachable() bool {
	return c[Required] > 0 || (c[NeededForInheritance] > 0 && c[IsOverridden] > 0)
}
