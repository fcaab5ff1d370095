package classfile

import (
	"encoding/binary"
	"fmt"
)

const (
	opTableSwitch  = 0xaa
	opLookupSwitch = 0xab
	opWide         = 0xc4
	opIinc         = 0x84
)

// operandLen holds the fixed operand length per opcode; -1 marks opcodes
// with variable length and -2 undefined opcodes.
var operandLen = buildOperandLen()

func buildOperandLen() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -2
	}
	set := func(from, to int, n int8) {
		for op := from; op <= to; op++ {
			t[op] = n
		}
	}
	set(0x00, 0x0f, 0) // nop, constants
	t[0x10] = 1        // bipush
	t[0x11] = 2        // sipush
	t[OpLdc] = 1
	t[OpLdcW] = 2
	t[OpLdc2W] = 2
	set(0x15, 0x19, 1) // loads with index
	set(0x1a, 0x35, 0) // short loads, array loads
	set(0x36, 0x3a, 1) // stores with index
	set(0x3b, 0x83, 0) // short stores, stack ops, arithmetic
	t[opIinc] = 2
	set(0x85, 0x98, 0) // conversions, comparisons
	set(0x99, 0xa8, 2) // branches, goto, jsr
	t[0xa9] = 1        // ret
	t[opTableSwitch] = -1
	t[opLookupSwitch] = -1
	set(0xac, 0xb1, 0) // returns
	set(OpGetStatic, OpInvokeStatic, 2)
	t[OpInvokeInterface] = 4
	t[OpInvokeDynamic] = 4
	t[OpNew] = 2
	t[0xbc] = 1 // newarray
	t[OpANewArray] = 2
	t[0xbe] = 0 // arraylength
	t[0xbf] = 0 // athrow
	t[OpCheckCast] = 2
	t[OpInstanceOf] = 2
	t[0xc2] = 0 // monitorenter
	t[0xc3] = 0 // monitorexit
	t[opWide] = -1
	t[OpMultiANewArray] = 3
	t[0xc6] = 2 // ifnull
	t[0xc7] = 2 // ifnonnull
	t[0xc8] = 4 // goto_w
	t[0xc9] = 4 // jsr_w
	t[0xca] = 0 // breakpoint
	t[0xfe] = 0 // impdep1
	t[0xff] = 0 // impdep2
	return t
}

// decodeBody walks the method's bytecode and fills m.Refs.
func (c *Class) decodeBody(m *Member) error {
	refs := make([]Ref, 0, 8)
	for _, ex := range m.Exceptions {
		refs = c.appendTypeRef(refs, 0, ex)
	}
	for _, idx := range m.catchTypes {
		name, err := c.pool.className(idx)
		if err != nil {
			return fmt.Errorf("catch type: %w", err)
		}
		refs = c.appendTypeRef(refs, 0, name)
	}

	code := m.code
	for pc := 0; pc < len(code); {
		op := code[pc]
		n := int(operandLen[op])
		switch n {
		case -2:
			return fmt.Errorf("%w: undefined opcode 0x%02x at pc %d", ErrMalformed, op, pc)
		case -1:
			var err error
			if n, err = variableOperandLen(code, pc); err != nil {
				return err
			}
		}
		if pc+1+n > len(code) {
			return fmt.Errorf("%w: instruction 0x%02x at pc %d overruns code", ErrTruncated, op, pc)
		}

		var err error
		switch op {
		case OpLdc:
			refs, err = c.appendLdcRefs(refs, uint16(code[pc+1]))
		case OpLdcW:
			refs, err = c.appendLdcRefs(refs, binary.BigEndian.Uint16(code[pc+1:]))
		case OpGetStatic, OpPutStatic, OpGetField, OpPutField,
			OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
			refs, err = c.appendMemberRef(refs, op, binary.BigEndian.Uint16(code[pc+1:]))
		case OpInvokeDynamic:
			refs, err = c.appendDynamicRefs(refs, binary.BigEndian.Uint16(code[pc+1:]))
		case OpNew, OpANewArray, OpCheckCast, OpInstanceOf, OpMultiANewArray:
			var name string
			name, err = c.pool.className(binary.BigEndian.Uint16(code[pc+1:]))
			if err == nil {
				refs = c.appendTypeRef(refs, op, name)
			}
		}
		if err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
		pc += 1 + n
	}

	m.Refs = refs
	return nil
}

func variableOperandLen(code []byte, pc int) (int, error) {
	op := code[pc]
	if op == opWide {
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("%w: wide at end of code", ErrTruncated)
		}
		if code[pc+1] == opIinc {
			return 5, nil
		}
		return 3, nil
	}

	// Switch operands start at the next 4-byte boundary of the code array.
	pad := (4 - (pc+1)%4) % 4
	base := pc + 1 + pad
	if base+12 > len(code) {
		return 0, fmt.Errorf("%w: switch at pc %d overruns code", ErrTruncated, pc)
	}
	// Each entry needs four bytes, which bounds the counts by the code length
	// before any arithmetic that could overflow.
	remaining := int64(len(code) - base)
	if op == opTableSwitch {
		low := int64(int32(binary.BigEndian.Uint32(code[base+4:])))
		high := int64(int32(binary.BigEndian.Uint32(code[base+8:])))
		n := high - low + 1
		if n <= 0 || n > remaining/4 {
			return 0, fmt.Errorf("%w: tableswitch range [%d, %d] at pc %d", ErrMalformed, low, high, pc)
		}
		return pad + 12 + 4*int(n), nil
	}
	npairs := int64(int32(binary.BigEndian.Uint32(code[base+4:])))
	if npairs < 0 || npairs > remaining/8 {
		return 0, fmt.Errorf("%w: lookupswitch with %d pairs at pc %d", ErrMalformed, npairs, pc)
	}
	return pad + 8 + 8*int(npairs), nil
}

func (c *Class) appendTypeRef(refs []Ref, op uint8, name string) []Ref {
	if cls, ok := ElementClass(name); ok {
		refs = append(refs, Ref{Kind: RefType, Opcode: op, Owner: cls})
	}
	return refs
}

func (c *Class) appendMemberRef(refs []Ref, op uint8, idx uint16) ([]Ref, error) {
	owner, name, desc, tag, err := c.pool.memberRef(idx)
	if err != nil {
		return nil, err
	}
	for _, cls := range DescriptorClasses(desc) {
		refs = c.appendTypeRef(refs, 0, cls)
	}
	if owner != "" && owner[0] == '[' {
		// Members of array types (clone, length) belong to no class file.
		return c.appendTypeRef(refs, op, owner), nil
	}
	kind := RefMethod
	if tag == tagFieldref {
		kind = RefField
	}
	return append(refs, Ref{
		Kind:      kind,
		Opcode:    op,
		Owner:     owner,
		Name:      name,
		Desc:      desc,
		Interface: tag == tagInterfaceMethodref,
	}), nil
}

func (c *Class) appendLdcRefs(refs []Ref, idx uint16) ([]Ref, error) {
	switch c.pool.tag(idx) {
	case tagClass:
		name, err := c.pool.className(idx)
		if err != nil {
			return nil, err
		}
		return c.appendTypeRef(refs, OpLdc, name), nil
	case tagMethodHandle:
		return c.appendHandleRefs(refs, idx)
	case tagMethodType:
		return c.appendMethodTypeRefs(refs, idx)
	case tagDynamic:
		return c.appendDynamicRefs(refs, idx)
	}
	return refs, nil
}

// handleOpcode maps a method handle kind to the instruction it behaves as.
func handleOpcode(kind uint16) uint8 {
	switch kind {
	case refGetField:
		return OpGetField
	case refGetStatic:
		return OpGetStatic
	case refPutField:
		return OpPutField
	case refPutStatic:
		return OpPutStatic
	case refInvokeVirtual:
		return OpInvokeVirtual
	case refInvokeStatic:
		return OpInvokeStatic
	case refInvokeSpecial, refNewInvokeSpecial:
		return OpInvokeSpecial
	case refInvokeInterface:
		return OpInvokeInterface
	}
	return 0
}

func (c *Class) appendHandleRefs(refs []Ref, idx uint16) ([]Ref, error) {
	h, err := c.pool.get(idx, tagMethodHandle)
	if err != nil {
		return nil, err
	}
	op := handleOpcode(h.a)
	if op == 0 {
		return nil, fmt.Errorf("%w: method handle kind %d", ErrMalformed, h.a)
	}
	return c.appendMemberRef(refs, op, h.b)
}

func (c *Class) appendMethodTypeRefs(refs []Ref, idx uint16) ([]Ref, error) {
	mt, err := c.pool.get(idx, tagMethodType)
	if err != nil {
		return nil, err
	}
	desc, err := c.pool.utf8(mt.a)
	if err != nil {
		return nil, err
	}
	for _, cls := range DescriptorClasses(desc) {
		refs = c.appendTypeRef(refs, 0, cls)
	}
	return refs, nil
}

// appendDynamicRefs follows an (Invoke)Dynamic constant into its bootstrap
// method: the bootstrap handle and every static argument count as
// references of the calling method, so lambda bodies stay reachable.
func (c *Class) appendDynamicRefs(refs []Ref, idx uint16) ([]Ref, error) {
	d, err := c.pool.get(idx, 0)
	if err != nil {
		return nil, err
	}
	if d.tag != tagInvokeDynamic && d.tag != tagDynamic {
		return nil, fmt.Errorf("%w: constant %d is not dynamic", ErrMalformed, idx)
	}
	if int(d.a) >= len(c.bootstrap) {
		return nil, fmt.Errorf("%w: bootstrap method %d out of range", ErrMalformed, d.a)
	}
	_, desc, err := c.pool.nameAndType(d.b)
	if err != nil {
		return nil, err
	}
	for _, cls := range DescriptorClasses(desc) {
		refs = c.appendTypeRef(refs, 0, cls)
	}

	bsm := c.bootstrap[d.a]
	if refs, err = c.appendHandleRefs(refs, bsm.handle); err != nil {
		return nil, err
	}
	for _, arg := range bsm.args {
		if arg == idx {
			continue
		}
		if refs, err = c.appendLdcRefs(refs, arg); err != nil {
			return nil, err
		}
	}
	return refs, nil
}
