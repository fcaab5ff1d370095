package testutil

import (
	"encoding/binary"
	"fmt"
)

const (
	accPublic   = 0x0001
	accNative   = 0x0100
	accAbstract = 0x0400

	lambdaMetafactory = "java/lang/invoke/LambdaMetafactory"
	metafactoryDesc   = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;" +
		"Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;" +
		"Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"
)

// ClassBuilder assembles minimal but well-formed class files for tests.
// Bytecode is not verifiable; it only has to decode.
type ClassBuilder struct {
	access      uint16
	name        string
	super       string
	interfaces  []string
	fields      []*MemberBuilder
	methods     []*MemberBuilder
	annotations []string
	sourceFile  string
	bootstrap   [][]uint16
	pool        *poolBuilder
}

// MemberBuilder builds one field or method of a ClassBuilder.
type MemberBuilder struct {
	cb          *ClassBuilder
	access      uint16
	name        string
	desc        string
	annotations []string
	exceptions  []string
	catchTypes  []string
	code        []byte
}

// NewClass starts a public class extending java/lang/Object.
func NewClass(name string) *ClassBuilder {
	return &ClassBuilder{
		access: accPublic,
		name:   name,
		super:  "java/lang/Object",
		pool:   newPoolBuilder(),
	}
}

// Access sets the class access flags.
func (b *ClassBuilder) Access(flags uint16) *ClassBuilder {
	b.access = flags
	return b
}

// Super sets the superclass; empty means none.
func (b *ClassBuilder) Super(name string) *ClassBuilder {
	b.super = name
	return b
}

// Implements adds interfaces.
func (b *ClassBuilder) Implements(names ...string) *ClassBuilder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// Annotate adds runtime-visible class annotations by internal name.
func (b *ClassBuilder) Annotate(types ...string) *ClassBuilder {
	b.annotations = append(b.annotations, types...)
	return b
}

// SourceFile sets the SourceFile attribute.
func (b *ClassBuilder) SourceFile(name string) *ClassBuilder {
	b.sourceFile = name
	return b
}

// Field adds a field.
func (b *ClassBuilder) Field(access uint16, name, desc string) *MemberBuilder {
	m := &MemberBuilder{cb: b, access: access, name: name, desc: desc}
	b.fields = append(b.fields, m)
	return m
}

// Method adds a method. Non-abstract, non-native methods get a Code
// attribute ending in whatever instructions are appended.
func (b *ClassBuilder) Method(access uint16, name, desc string) *MemberBuilder {
	m := &MemberBuilder{cb: b, access: access, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// Constructor adds a public no-arg constructor calling the superclass one.
func (b *ClassBuilder) Constructor() *MemberBuilder {
	m := b.Method(accPublic, "<init>", "()V")
	if b.super != "" {
		m.InvokeSpecial(b.super, "<init>", "()V")
	}
	return m.Return()
}

// Annotate adds runtime-visible annotations by internal name.
func (m *MemberBuilder) Annotate(types ...string) *MemberBuilder {
	m.annotations = append(m.annotations, types...)
	return m
}

// Throws adds classes to the Exceptions attribute.
func (m *MemberBuilder) Throws(types ...string) *MemberBuilder {
	m.exceptions = append(m.exceptions, types...)
	return m
}

// Catch adds an exception handler with the given catch type.
func (m *MemberBuilder) Catch(typ string) *MemberBuilder {
	m.catchTypes = append(m.catchTypes, typ)
	return m
}

// Raw appends raw bytecode.
func (m *MemberBuilder) Raw(code ...byte) *MemberBuilder {
	m.code = append(m.code, code...)
	return m
}

func (m *MemberBuilder) op16(op byte, idx uint16) *MemberBuilder {
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, idx)
	return m
}

// InvokeVirtual appends invokevirtual.
func (m *MemberBuilder) InvokeVirtual(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb6, m.cb.pool.ref(10, owner, name, desc))
}

// InvokeSpecial appends invokespecial.
func (m *MemberBuilder) InvokeSpecial(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb7, m.cb.pool.ref(10, owner, name, desc))
}

// InvokeStatic appends invokestatic.
func (m *MemberBuilder) InvokeStatic(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb8, m.cb.pool.ref(10, owner, name, desc))
}

// InvokeInterface appends invokeinterface.
func (m *MemberBuilder) InvokeInterface(owner, name, desc string) *MemberBuilder {
	m.op16(0xb9, m.cb.pool.ref(11, owner, name, desc))
	m.code = append(m.code, 1, 0)
	return m
}

// GetField appends getfield.
func (m *MemberBuilder) GetField(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb4, m.cb.pool.ref(9, owner, name, desc))
}

// PutStatic appends putstatic.
func (m *MemberBuilder) PutStatic(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb3, m.cb.pool.ref(9, owner, name, desc))
}

// GetStatic appends getstatic.
func (m *MemberBuilder) GetStatic(owner, name, desc string) *MemberBuilder {
	return m.op16(0xb2, m.cb.pool.ref(9, owner, name, desc))
}

// New appends new.
func (m *MemberBuilder) New(class string) *MemberBuilder {
	return m.op16(0xbb, m.cb.pool.class(class))
}

// CheckCast appends checkcast.
func (m *MemberBuilder) CheckCast(class string) *MemberBuilder {
	return m.op16(0xc0, m.cb.pool.class(class))
}

// InstanceOf appends instanceof.
func (m *MemberBuilder) InstanceOf(class string) *MemberBuilder {
	return m.op16(0xc1, m.cb.pool.class(class))
}

// ANewArray appends anewarray.
func (m *MemberBuilder) ANewArray(class string) *MemberBuilder {
	return m.op16(0xbd, m.cb.pool.class(class))
}

// LdcClass appends ldc_w of a class literal.
func (m *MemberBuilder) LdcClass(class string) *MemberBuilder {
	return m.op16(0x13, m.cb.pool.class(class))
}

// LdcLong appends ldc2_w of a long constant.
func (m *MemberBuilder) LdcLong(v int64) *MemberBuilder {
	return m.op16(0x14, m.cb.pool.long(v))
}

// TableSwitch appends a two-case tableswitch with correct padding.
func (m *MemberBuilder) TableSwitch() *MemberBuilder {
	m.code = append(m.code, 0xaa)
	for len(m.code)%4 != 0 {
		m.code = append(m.code, 0)
	}
	for _, v := range []uint32{0, 0, 1, 0, 0} { // default, low, high, 2 offsets
		m.code = binary.BigEndian.AppendUint32(m.code, v)
	}
	return m
}

// Lambda appends an invokedynamic bootstrapped by LambdaMetafactory whose
// implementation is the given static method.
func (m *MemberBuilder) Lambda(implOwner, implName, implDesc, iface, samName, samDesc string) *MemberBuilder {
	p := m.cb.pool
	bsm := p.handle(6, p.ref(10, lambdaMetafactory, "metafactory", metafactoryDesc))
	impl := p.handle(6, p.ref(10, implOwner, implName, implDesc))
	mt := p.methodType(samDesc)
	idx := uint16(len(m.cb.bootstrap))
	m.cb.bootstrap = append(m.cb.bootstrap, []uint16{bsm, mt, impl, mt})
	m.op16(0xba, p.indy(idx, samName, "()L"+iface+";"))
	m.code = append(m.code, 0, 0)
	return m
}

// Return appends return.
func (m *MemberBuilder) Return() *MemberBuilder {
	m.code = append(m.code, 0xb1)
	return m
}

// End returns the owning class builder.
func (m *MemberBuilder) End() *ClassBuilder {
	return m.cb
}

// Bytes encodes the class file.
func (b *ClassBuilder) Bytes() []byte {
	p := b.pool
	var body []byte
	body = binary.BigEndian.AppendUint16(body, b.access)
	body = binary.BigEndian.AppendUint16(body, p.class(b.name))
	if b.super == "" {
		body = binary.BigEndian.AppendUint16(body, 0)
	} else {
		body = binary.BigEndian.AppendUint16(body, p.class(b.super))
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		body = binary.BigEndian.AppendUint16(body, p.class(i))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(b.fields)))
	for _, f := range b.fields {
		body = append(body, b.member(f, false)...)
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(b.methods)))
	for _, m := range b.methods {
		body = append(body, b.member(m, m.access&(accAbstract|accNative) == 0)...)
	}

	var attrs [][]byte
	if b.sourceFile != "" {
		attrs = append(attrs, b.attribute("SourceFile", binary.BigEndian.AppendUint16(nil, p.utf8(b.sourceFile))))
	}
	if len(b.annotations) > 0 {
		attrs = append(attrs, b.attribute("RuntimeVisibleAnnotations", b.annotationTable(b.annotations)))
	}
	if len(b.bootstrap) > 0 {
		var bm []byte
		bm = binary.BigEndian.AppendUint16(bm, uint16(len(b.bootstrap)))
		for _, entry := range b.bootstrap {
			bm = binary.BigEndian.AppendUint16(bm, entry[0])
			bm = binary.BigEndian.AppendUint16(bm, uint16(len(entry)-1))
			for _, arg := range entry[1:] {
				bm = binary.BigEndian.AppendUint16(bm, arg)
			}
		}
		attrs = append(attrs, b.attribute("BootstrapMethods", bm))
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	for _, a := range attrs {
		body = append(body, a...)
	}

	var out []byte
	out = binary.BigEndian.AppendUint32(out, 0xCAFEBABE)
	out = binary.BigEndian.AppendUint16(out, 0)  // minor
	out = binary.BigEndian.AppendUint16(out, 52) // major: Java 8
	out = append(out, p.bytes()...)
	return append(out, body...)
}

func (b *ClassBuilder) member(m *MemberBuilder, withCode bool) []byte {
	p := b.pool
	var out []byte
	out = binary.BigEndian.AppendUint16(out, m.access)
	out = binary.BigEndian.AppendUint16(out, p.utf8(m.name))
	out = binary.BigEndian.AppendUint16(out, p.utf8(m.desc))

	var attrs [][]byte
	if withCode {
		code := m.code
		if len(code) == 0 {
			code = []byte{0xb1}
		}
		var c []byte
		c = binary.BigEndian.AppendUint16(c, 10) // max_stack
		c = binary.BigEndian.AppendUint16(c, 10) // max_locals
		c = binary.BigEndian.AppendUint32(c, uint32(len(code)))
		c = append(c, code...)
		c = binary.BigEndian.AppendUint16(c, uint16(len(m.catchTypes)))
		for _, t := range m.catchTypes {
			c = binary.BigEndian.AppendUint16(c, 0)
			c = binary.BigEndian.AppendUint16(c, uint16(len(code)))
			c = binary.BigEndian.AppendUint16(c, 0)
			c = binary.BigEndian.AppendUint16(c, p.class(t))
		}
		c = binary.BigEndian.AppendUint16(c, 0)
		attrs = append(attrs, b.attribute("Code", c))
	}
	if len(m.exceptions) > 0 {
		var e []byte
		e = binary.BigEndian.AppendUint16(e, uint16(len(m.exceptions)))
		for _, t := range m.exceptions {
			e = binary.BigEndian.AppendUint16(e, p.class(t))
		}
		attrs = append(attrs, b.attribute("Exceptions", e))
	}
	if len(m.annotations) > 0 {
		attrs = append(attrs, b.attribute("RuntimeVisibleAnnotations", b.annotationTable(m.annotations)))
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(attrs)))
	for _, a := range attrs {
		out = append(out, a...)
	}
	return out
}

func (b *ClassBuilder) attribute(name string, body []byte) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint16(out, b.pool.utf8(name))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// annotationTable encodes annotations with a single string element named
// "value".
func (b *ClassBuilder) annotationTable(types []string) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint16(out, uint16(len(types)))
	for _, t := range types {
		out = binary.BigEndian.AppendUint16(out, b.pool.utf8("L"+t+";"))
		out = binary.BigEndian.AppendUint16(out, 1)
		out = binary.BigEndian.AppendUint16(out, b.pool.utf8("value"))
		out = append(out, 's')
		out = binary.BigEndian.AppendUint16(out, b.pool.utf8(t))
	}
	return out
}

// poolBuilder interns constant pool entries.
type poolBuilder struct {
	entries [][]byte
	index   map[string]uint16
	next    uint16
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{index: make(map[string]uint16), next: 1}
}

func (p *poolBuilder) add(key string, entry []byte, slots uint16) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := p.next
	p.index[key] = idx
	p.entries = append(p.entries, entry)
	p.next += slots
	return idx
}

func (p *poolBuilder) utf8(s string) uint16 {
	e := []byte{1}
	e = binary.BigEndian.AppendUint16(e, uint16(len(s)))
	return p.add("u:"+s, append(e, s...), 1)
}

func (p *poolBuilder) class(name string) uint16 {
	n := p.utf8(name)
	return p.add("c:"+name, binary.BigEndian.AppendUint16([]byte{7}, n), 1)
}

func (p *poolBuilder) nat(name, desc string) uint16 {
	n, d := p.utf8(name), p.utf8(desc)
	e := binary.BigEndian.AppendUint16([]byte{12}, n)
	return p.add("n:"+name+":"+desc, binary.BigEndian.AppendUint16(e, d), 1)
}

func (p *poolBuilder) ref(tag byte, owner, name, desc string) uint16 {
	c, nt := p.class(owner), p.nat(name, desc)
	e := binary.BigEndian.AppendUint16([]byte{tag}, c)
	return p.add(fmt.Sprintf("r%d:%s.%s%s", tag, owner, name, desc), binary.BigEndian.AppendUint16(e, nt), 1)
}

func (p *poolBuilder) handle(kind byte, ref uint16) uint16 {
	return p.add(fmt.Sprintf("h:%d:%d", kind, ref), binary.BigEndian.AppendUint16([]byte{15, kind}, ref), 1)
}

func (p *poolBuilder) methodType(desc string) uint16 {
	d := p.utf8(desc)
	return p.add("t:"+desc, binary.BigEndian.AppendUint16([]byte{16}, d), 1)
}

func (p *poolBuilder) indy(bsm uint16, name, desc string) uint16 {
	nt := p.nat(name, desc)
	e := binary.BigEndian.AppendUint16([]byte{18}, bsm)
	return p.add(fmt.Sprintf("i:%d:%s%s", bsm, name, desc), binary.BigEndian.AppendUint16(e, nt), 1)
}

func (p *poolBuilder) long(v int64) uint16 {
	e := binary.BigEndian.AppendUint64([]byte{5}, uint64(v))
	return p.add(fmt.Sprintf("j:%d", v), e, 2)
}

func (p *poolBuilder) bytes() []byte {
	out := binary.BigEndian.AppendUint16(nil, p.next)
	for _, e := range p.entries {
		out = append(out, e...)
	}
	return out
}
