// Package classfile decodes the parts of JVM class files the shrinker needs
// and writes them back with unreachable members removed.
package classfile

import (
	"errors"
	"strings"
)

var (
	// ErrBadMagic is returned when the input does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("not a class file")

	// ErrTruncated is returned when the input ends inside a structure.
	ErrTruncated = errors.New("truncated class file")

	// ErrMalformed is returned for structurally invalid input.
	ErrMalformed = errors.New("malformed class file")
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Access flags.
const (
	AccPublic     = 0x0001
	AccPrivate    = 0x0002
	AccProtected  = 0x0004
	AccStatic     = 0x0008
	AccFinal      = 0x0010
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
)

// Special method names.
const (
	ConstructorName = "<init>"
	ClinitName      = "<clinit>"
)

// Opcodes that reference the constant pool.
const (
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpGetStatic       = 0xb2
	OpPutStatic       = 0xb3
	OpGetField        = 0xb4
	OpPutField        = 0xb5
	OpInvokeVirtual   = 0xb6
	OpInvokeSpecial   = 0xb7
	OpInvokeStatic    = 0xb8
	OpInvokeInterface = 0xb9
	OpInvokeDynamic   = 0xba
	OpNew             = 0xbb
	OpANewArray       = 0xbd
	OpCheckCast       = 0xc0
	OpInstanceOf      = 0xc1
	OpMultiANewArray  = 0xc5
)

// DecodeMode selects how much of a class is decoded.
type DecodeMode int

const (
	// DecodeFull decodes structure and method bodies.
	DecodeFull DecodeMode = iota
	// DecodeSkipCode decodes structure only; used for library classes.
	DecodeSkipCode
)

// RefKind classifies a reference found in a class.
type RefKind uint8

const (
	// RefType references a class.
	RefType RefKind = iota
	// RefField references a field.
	RefField
	// RefMethod references a method.
	RefMethod
)

// Ref is a reference from a method body (or member signature) to another
// class or member. Owner is always a class internal name, never an array
// descriptor.
type Ref struct {
	Kind      RefKind
	Opcode    uint8 // 0 for references outside instructions
	Owner     string
	Name      string
	Desc      string
	Interface bool // InterfaceMethodref
}

// Class is the decoded model of one class file.
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	Name         string
	SuperName    string // empty for java/lang/Object and module-info
	Interfaces   []string
	Fields       []*Member
	Methods      []*Member
	Annotations  []string
	SourceFile   string

	raw           []byte
	pool          *constantPool
	interfacesOff int
	interfaceIdx  []uint16
	fieldsOff     int
	attributesOff int
	bootstrap     []bootstrapMethod
}

// Member is a decoded field or method.
type Member struct {
	AccessFlags uint16
	Name        string
	Desc        string
	Annotations []string
	Exceptions  []string

	// Refs holds references from the method body. It is nil for fields and
	// for classes decoded with DecodeSkipCode.
	Refs []Ref

	start, end int
	code       []byte
	catchTypes []uint16
}

type bootstrapMethod struct {
	handle uint16
	args   []uint16
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.AccessFlags&AccInterface != 0 }

// Raw returns the original class file bytes.
func (c *Class) Raw() []byte { return c.raw }

// IsMethod reports whether the member is a method.
func (m *Member) IsMethod() bool { return strings.HasPrefix(m.Desc, "(") }

// IsStatic reports whether the member is static.
func (m *Member) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// IsPrivate reports whether the member is private.
func (m *Member) IsPrivate() bool { return m.AccessFlags&AccPrivate != 0 }

// IsVirtual reports whether the method takes part in dynamic dispatch.
func (m *Member) IsVirtual() bool {
	return m.IsMethod() && !m.IsStatic() && !m.IsPrivate() &&
		m.Name != ConstructorName && m.Name != ClinitName
}

// HasAnnotation reports whether the member carries the given annotation type.
func (m *Member) HasAnnotation(name string) bool {
	for _, a := range m.Annotations {
		if a == name {
			return true
		}
	}
	return false
}

// FindMethod returns the method with the given name and descriptor.
func (c *Class) FindMethod(name, desc string) *Member {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name and descriptor.
func (c *Class) FindField(name, desc string) *Member {
	for _, f := range c.Fields {
		if f.Name == name && f.Desc == desc {
			return f
		}
	}
	return nil
}
