package classfile

import (
	"encoding/binary"
)

// Filter selects the parts of a class kept by Rewrite. A nil function keeps
// everything of its kind.
type Filter struct {
	KeepField     func(f *Member) bool
	KeepMethod    func(m *Member) bool
	KeepInterface func(name string) bool
}

// Rewrite returns the class file with filtered interfaces, fields and
// methods removed. The constant pool, class attributes and the bytes of
// every kept member are copied unchanged.
func (c *Class) Rewrite(f Filter) []byte {
	out := make([]byte, 0, len(c.raw))
	out = append(out, c.raw[:c.interfacesOff]...)

	kept := make([]uint16, 0, len(c.interfaceIdx))
	for i, name := range c.Interfaces {
		if f.KeepInterface == nil || f.KeepInterface(name) {
			kept = append(kept, c.interfaceIdx[i])
		}
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(kept)))
	for _, idx := range kept {
		out = binary.BigEndian.AppendUint16(out, idx)
	}

	out = c.appendMembers(out, c.Fields, f.KeepField)
	out = c.appendMembers(out, c.Methods, f.KeepMethod)
	return append(out, c.raw[c.attributesOff:]...)
}

func (c *Class) appendMembers(out []byte, members []*Member, keep func(*Member) bool) []byte {
	countOff := len(out)
	out = append(out, 0, 0)
	n := 0
	for _, m := range members {
		if keep != nil && !keep(m) {
			continue
		}
		out = append(out, c.raw[m.start:m.end]...)
		n++
	}
	binary.BigEndian.PutUint16(out[countOff:], uint16(n))
	return out
}
