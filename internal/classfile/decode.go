package classfile

import (
	"fmt"
)

// Decode parses a class file. With DecodeSkipCode method bodies are not
// inspected and Member.Refs stays nil.
func Decode(data []byte, mode DecodeMode) (c *Class, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	r := newReader(data)

	magic, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrBadMagic, magic)
	}

	c = &Class{raw: data}
	if c.MinorVersion, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if c.MajorVersion, err = r.ReadUint16(); err != nil {
		return nil, err
	}

	if c.pool, err = parseConstantPool(r); err != nil {
		return nil, err
	}

	if err := c.parseHeader(r); err != nil {
		return nil, err
	}

	c.fieldsOff = r.off
	if c.Fields, err = c.parseMembers(r); err != nil {
		return nil, fmt.Errorf("failed to read fields of %s: %w", c.Name, err)
	}
	if c.Methods, err = c.parseMembers(r); err != nil {
		return nil, fmt.Errorf("failed to read methods of %s: %w", c.Name, err)
	}

	c.attributesOff = r.off
	if err := c.parseClassAttributes(r); err != nil {
		return nil, fmt.Errorf("failed to read attributes of %s: %w", c.Name, err)
	}

	if mode == DecodeFull {
		for _, m := range c.Methods {
			if err := c.decodeBody(m); err != nil {
				return nil, fmt.Errorf("failed to decode %s.%s%s: %w", c.Name, m.Name, m.Desc, err)
			}
		}
	}
	return c, nil
}

func (c *Class) parseHeader(r *reader) error {
	var err error
	if c.AccessFlags, err = r.ReadUint16(); err != nil {
		return err
	}

	thisIdx, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if c.Name, err = c.pool.className(thisIdx); err != nil {
		return fmt.Errorf("failed to resolve this_class: %w", err)
	}

	superIdx, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if superIdx != 0 {
		if c.SuperName, err = c.pool.className(superIdx); err != nil {
			return fmt.Errorf("failed to resolve super_class of %s: %w", c.Name, err)
		}
	}

	c.interfacesOff = r.off
	count, err := r.ReadUint16()
	if err != nil {
		return err
	}
	c.Interfaces = make([]string, 0, count)
	c.interfaceIdx = make([]uint16, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.ReadUint16()
		if err != nil {
			return err
		}
		name, err := c.pool.className(idx)
		if err != nil {
			return fmt.Errorf("failed to resolve interface %d of %s: %w", i, c.Name, err)
		}
		c.Interfaces = append(c.Interfaces, name)
		c.interfaceIdx = append(c.interfaceIdx, idx)
	}
	return nil
}

func (c *Class) parseMembers(r *reader) ([]*Member, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	members := make([]*Member, 0, count)
	for i := 0; i < int(count); i++ {
		m := &Member{start: r.off}
		var nameIdx, descIdx uint16
		if m.AccessFlags, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if nameIdx, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if descIdx, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if m.Name, err = c.pool.utf8(nameIdx); err != nil {
			return nil, err
		}
		if m.Desc, err = c.pool.utf8(descIdx); err != nil {
			return nil, err
		}
		if err := c.parseMemberAttributes(r, m); err != nil {
			return nil, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
		m.end = r.off
		members = append(members, m)
	}
	return members, nil
}

// readAttribute returns the attribute name and a reader over its body.
func (c *Class) readAttribute(r *reader) (string, *reader, error) {
	nameIdx, err := r.ReadUint16()
	if err != nil {
		return "", nil, err
	}
	length, err := r.ReadUint32()
	if err != nil {
		return "", nil, err
	}
	body, err := r.ReadBytes(int(length))
	if err != nil {
		return "", nil, err
	}
	name, err := c.pool.utf8(nameIdx)
	if err != nil {
		return "", nil, err
	}
	return name, newReader(body), nil
}

func (c *Class) parseMemberAttributes(r *reader, m *Member) error {
	count, err := r.ReadUint16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		name, body, err := c.readAttribute(r)
		if err != nil {
			return err
		}
		switch name {
		case "Code":
			if err := c.parseCode(body, m); err != nil {
				return fmt.Errorf("Code: %w", err)
			}
		case "Exceptions":
			n, err := body.ReadUint16()
			if err != nil {
				return err
			}
			for j := 0; j < int(n); j++ {
				idx, err := body.ReadUint16()
				if err != nil {
					return err
				}
				ex, err := c.pool.className(idx)
				if err != nil {
					return err
				}
				m.Exceptions = append(m.Exceptions, ex)
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			types, err := c.parseAnnotations(body)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			m.Annotations = append(m.Annotations, types...)
		case "RuntimeVisibleParameterAnnotations", "RuntimeInvisibleParameterAnnotations":
			params, err := body.ReadUint8()
			if err != nil {
				return err
			}
			for p := 0; p < int(params); p++ {
				types, err := c.parseAnnotations(body)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				m.Annotations = append(m.Annotations, types...)
			}
		}
	}
	return nil
}

func (c *Class) parseClassAttributes(r *reader) error {
	count, err := r.ReadUint16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		name, body, err := c.readAttribute(r)
		if err != nil {
			return err
		}
		switch name {
		case "SourceFile":
			idx, err := body.ReadUint16()
			if err != nil {
				return err
			}
			if c.SourceFile, err = c.pool.utf8(idx); err != nil {
				return err
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			types, err := c.parseAnnotations(body)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			c.Annotations = append(c.Annotations, types...)
		case "BootstrapMethods":
			if c.bootstrap, err = parseBootstrapMethods(body); err != nil {
				return fmt.Errorf("BootstrapMethods: %w", err)
			}
		}
	}
	return nil
}

func parseBootstrapMethods(r *reader) ([]bootstrapMethod, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	methods := make([]bootstrapMethod, count)
	for i := range methods {
		if methods[i].handle, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		methods[i].args = make([]uint16, n)
		for j := range methods[i].args {
			if methods[i].args[j], err = r.ReadUint16(); err != nil {
				return nil, err
			}
		}
	}
	return methods, nil
}

// parseCode records the bytecode and exception table; instructions are
// decoded once BootstrapMethods is known.
func (c *Class) parseCode(r *reader, m *Member) error {
	// max_stack, max_locals
	if err := r.Skip(4); err != nil {
		return err
	}
	length, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if m.code, err = r.ReadBytes(int(length)); err != nil {
		return err
	}
	handlers, err := r.ReadUint16()
	if err != nil {
		return err
	}
	for i := 0; i < int(handlers); i++ {
		// start_pc, end_pc, handler_pc
		if err := r.Skip(6); err != nil {
			return err
		}
		catchType, err := r.ReadUint16()
		if err != nil {
			return err
		}
		if catchType != 0 {
			m.catchTypes = append(m.catchTypes, catchType)
		}
	}
	// Nested attributes (line numbers, stack maps) carry no references the
	// shrinker follows.
	return nil
}

// parseAnnotations returns the type names referenced by an annotations
// table: annotation types, enum types and class literals.
func (c *Class) parseAnnotations(r *reader) ([]string, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	var types []string
	for i := 0; i < int(count); i++ {
		if types, err = c.parseAnnotation(r, types); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func (c *Class) parseAnnotation(r *reader, types []string) ([]string, error) {
	typeIdx, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	desc, err := c.pool.utf8(typeIdx)
	if err != nil {
		return nil, err
	}
	types = append(types, DescriptorClasses(desc)...)

	pairs, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(pairs); i++ {
		// element_name_index
		if err := r.Skip(2); err != nil {
			return nil, err
		}
		if types, err = c.parseElementValue(r, types); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func (c *Class) parseElementValue(r *reader, types []string) ([]string, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return types, r.Skip(2)
	case 'e':
		idx, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		desc, err := c.pool.utf8(idx)
		if err != nil {
			return nil, err
		}
		return append(types, DescriptorClasses(desc)...), r.Skip(2)
	case 'c':
		idx, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		desc, err := c.pool.utf8(idx)
		if err != nil {
			return nil, err
		}
		return append(types, DescriptorClasses(desc)...), nil
	case '@':
		return c.parseAnnotation(r, types)
	case '[':
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(n); i++ {
			if types, err = c.parseElementValue(r, types); err != nil {
				return nil, err
			}
		}
		return types, nil
	default:
		return nil, fmt.Errorf("%w: unknown element_value tag %q", ErrMalformed, tag)
	}
}
