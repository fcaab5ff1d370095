package shrinker

import (
	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/keep"
)

// RuleSet holds the keep rules of each shrink target. Targets without rules
// have no seeds.
type RuleSet map[graph.ShrinkTarget]keep.Rules

// Extraction is everything one program class contributes to the graph.
type Extraction struct {
	Class      string
	Edges      []graph.Edge
	Unresolved []graph.UnresolvedReference
	Virtual    []graph.Member
	Seeds      map[graph.ShrinkTarget][]graph.Member
}

// Extract computes the edges, unresolved references, virtual methods and
// keep-rule seeds of a program class. h must already know every scanned
// class. Extract does not modify the graph.
func Extract(h Hierarchy, c *classfile.Class, rules RuleSet) *Extraction {
	x := &extractor{h: h, out: &Extraction{
		Class: c.Name,
		Seeds: make(map[graph.ShrinkTarget][]graph.Member),
	}}
	x.class(c)
	x.seeds(c, rules)
	return x.out
}

type extractor struct {
	h   Hierarchy
	out *Extraction
}

func (x *extractor) edge(src, target graph.Member, typ graph.DependencyType) {
	x.out.Edges = append(x.out.Edges, graph.NewEdge(src, target, typ))
}

func (x *extractor) classRef(src graph.Member, name string) {
	if class, ok := classfile.ElementClass(name); ok {
		x.edge(src, graph.ClassMember(class), graph.Required)
	}
}

func (x *extractor) class(c *classfile.Class) {
	self := graph.ClassMember(c.Name)
	if c.SuperName != "" {
		x.edge(self, graph.ClassMember(c.SuperName), graph.Required)
	}
	if c.FindMethod(classfile.ClinitName, "()V") != nil {
		x.edge(self, graph.Member{Class: c.Name, Name: classfile.ClinitName, Desc: "()V"}, graph.Required)
	}
	for _, a := range c.Annotations {
		x.classRef(self, a)
	}

	for _, f := range c.Fields {
		x.member(c, f)
	}
	for _, m := range c.Methods {
		x.member(c, m)
	}
}

func (x *extractor) member(c *classfile.Class, m *classfile.Member) {
	self := graph.Member{Class: c.Name, Name: m.Name, Desc: m.Desc}
	x.edge(self, graph.ClassMember(c.Name), graph.Required)
	for _, t := range classfile.DescriptorClasses(m.Desc) {
		x.classRef(self, t)
	}
	for _, a := range m.Annotations {
		x.classRef(self, a)
	}
	for _, e := range m.Exceptions {
		x.classRef(self, e)
	}
	if m.IsVirtual() {
		x.out.Virtual = append(x.out.Virtual, self)
	}

	for _, ref := range m.Refs {
		x.classRef(self, ref.Owner)
		if ref.Kind == classfile.RefType {
			continue
		}
		target := graph.Member{Class: ref.Owner, Name: ref.Name, Desc: ref.Desc}
		switch {
		case x.h.IsLibraryMember(target):
			x.edge(self, target, graph.Required)
		case ref.Name == classfile.ConstructorName || ref.Name == classfile.ClinitName:
			x.edge(self, target, graph.Required)
		case ref.Opcode != classfile.OpInvokeSpecial && x.h.IsDeclared(target):
			x.edge(self, target, graph.Required)
		case ref.Opcode == classfile.OpInvokeSpecial && ref.Owner == c.Name && x.h.IsDeclared(target):
			// Private call on the caller's own class.
			x.edge(self, target, graph.Required)
		default:
			x.out.Unresolved = append(x.out.Unresolved, graph.UnresolvedReference{
				Method: self,
				Target: target,
				Opcode: ref.Opcode,
			})
		}
	}
}

// seeds evaluates the keep rules of every target. A member kept only along
// with its class becomes an edge from the class, shared by all targets.
func (x *extractor) seeds(c *classfile.Class, rules RuleSet) {
	self := graph.ClassMember(c.Name)
	conditional := make(map[graph.Member]bool)

	for _, target := range graph.AllTargets {
		r, ok := rules[target]
		if !ok || r == nil {
			continue
		}
		if r.Evaluate(x.h, c, nil) == keep.Keep {
			x.out.Seeds[target] = append(x.out.Seeds[target], self)
		}
		for _, members := range [][]*classfile.Member{c.Fields, c.Methods} {
			for _, m := range members {
				key := graph.Member{Class: c.Name, Name: m.Name, Desc: m.Desc}
				switch r.Evaluate(x.h, c, m) {
				case keep.Keep:
					x.out.Seeds[target] = append(x.out.Seeds[target], key)
				case keep.KeepIfClassKept:
					if !conditional[key] {
						conditional[key] = true
						x.edge(self, key, graph.Required)
					}
				}
			}
		}
	}
}
