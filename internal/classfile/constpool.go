package classfile

import (
	"fmt"
	"unicode"
	"unicode/utf16"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Method handle reference kinds.
const (
	refGetField         = 1
	refGetStatic        = 2
	refPutField         = 3
	refPutStatic        = 4
	refInvokeVirtual    = 5
	refInvokeStatic     = 6
	refInvokeSpecial    = 7
	refNewInvokeSpecial = 8
	refInvokeInterface  = 9
)

type constant struct {
	tag  uint8
	a, b uint16 // operand indices, or (kind, ref) for method handles
	str  string // decoded Utf8
}

type constantPool struct {
	entries []constant
}

func parseConstantPool(r *reader) (*constantPool, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read constant pool count: %w", err)
	}
	pool := &constantPool{entries: make([]constant, count)}
	for i := 1; i < int(count); i++ {
		tag, err := r.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("failed to read constant %d tag: %w", i, err)
		}
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			n, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			raw, err := r.ReadBytes(int(n))
			if err != nil {
				return nil, err
			}
			c.str = decodeModifiedUTF8(raw)
		case tagInteger, tagFloat:
			err = r.Skip(4)
		case tagLong, tagDouble:
			err = r.Skip(8)
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.a, err = r.ReadUint16()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			if c.a, err = r.ReadUint16(); err == nil {
				c.b, err = r.ReadUint16()
			}
		case tagMethodHandle:
			var kind uint8
			if kind, err = r.ReadUint8(); err == nil {
				c.a = uint16(kind)
				c.b, err = r.ReadUint16()
			}
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformed, tag, i)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read constant %d: %w", i, err)
		}
		pool.entries[i] = c
		if tag == tagLong || tag == tagDouble {
			// Eight-byte constants occupy two slots.
			i++
		}
	}
	return pool, nil
}

func (p *constantPool) get(idx uint16, tag uint8) (constant, error) {
	if idx == 0 || int(idx) >= len(p.entries) {
		return constant{}, fmt.Errorf("%w: constant index %d out of range", ErrMalformed, idx)
	}
	c := p.entries[idx]
	if tag != 0 && c.tag != tag {
		return constant{}, fmt.Errorf("%w: constant %d has tag %d, want %d", ErrMalformed, idx, c.tag, tag)
	}
	return c, nil
}

func (p *constantPool) tag(idx uint16) uint8 {
	if idx == 0 || int(idx) >= len(p.entries) {
		return 0
	}
	return p.entries[idx].tag
}

func (p *constantPool) utf8(idx uint16) (string, error) {
	c, err := p.get(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return c.str, nil
}

func (p *constantPool) className(idx uint16) (string, error) {
	c, err := p.get(idx, tagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(c.a)
}

func (p *constantPool) nameAndType(idx uint16) (name, desc string, err error) {
	c, err := p.get(idx, tagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.utf8(c.a); err != nil {
		return "", "", err
	}
	desc, err = p.utf8(c.b)
	return name, desc, err
}

// memberRef resolves a Fieldref, Methodref or InterfaceMethodref.
func (p *constantPool) memberRef(idx uint16) (owner, name, desc string, tag uint8, err error) {
	c, err := p.get(idx, 0)
	if err != nil {
		return "", "", "", 0, err
	}
	switch c.tag {
	case tagFieldref, tagMethodref, tagInterfaceMethodref:
	default:
		return "", "", "", 0, fmt.Errorf("%w: constant %d is not a member reference", ErrMalformed, idx)
	}
	if owner, err = p.className(c.a); err != nil {
		return "", "", "", 0, err
	}
	name, desc, err = p.nameAndType(c.b)
	return owner, name, desc, c.tag, err
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8 encoding.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0 && i+1 < len(b):
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < len(b):
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			units = append(units, uint16(unicode.ReplacementChar))
			i++
		}
	}
	return string(utf16.Decode(units))
}
