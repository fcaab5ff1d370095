package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/testutil"
)

func sampleClass() *testutil.ClassBuilder {
	b := testutil.NewClass("com/example/Foo").
		Super("com/example/Base").
		Implements("java/lang/Runnable", "com/example/Marker").
		Annotate("com/example/Keep").
		SourceFile("Foo.java")
	b.Field(AccPrivate, "count", "I")
	b.Field(AccStatic, "dep", "Lcom/example/Dep;").Annotate("com/example/Inject")
	b.Constructor()
	b.Method(AccPublic, "run", "()V").
		InvokeVirtual("com/example/Dep", "work", "(Lcom/example/Arg;)V").
		GetField("com/example/Foo", "count", "I").
		New("com/example/Thing").
		InvokeSpecial("com/example/Thing", "<init>", "()V").
		LdcLong(42).
		CheckCast("com/example/Casted").
		TableSwitch().
		ANewArray("[Lcom/example/Elem;").
		InvokeVirtual("[Ljava/lang/String;", "clone", "()Ljava/lang/Object;").
		LdcClass("com/example/Literal").
		InvokeInterface("com/example/Marker", "mark", "()V").
		Catch("com/example/Oops").
		Throws("com/example/Declared").
		Return()
	b.Method(AccPublic|AccAbstract, "abstractOne", "()V")
	return b
}

func TestDecode_Structure(t *testing.T) {
	c, err := Decode(sampleClass().Bytes(), DecodeFull)
	require.NoError(t, err)

	assert.Equal(t, "com/example/Foo", c.Name)
	assert.Equal(t, "com/example/Base", c.SuperName)
	assert.Equal(t, []string{"java/lang/Runnable", "com/example/Marker"}, c.Interfaces)
	assert.Equal(t, "Foo.java", c.SourceFile)
	assert.Equal(t, []string{"com/example/Keep"}, c.Annotations)
	assert.Equal(t, uint16(52), c.MajorVersion)
	assert.False(t, c.IsInterface())

	require.Len(t, c.Fields, 2)
	assert.Equal(t, "count", c.Fields[0].Name)
	assert.True(t, c.Fields[0].IsPrivate())
	assert.False(t, c.Fields[0].IsMethod())
	assert.Equal(t, []string{"com/example/Inject"}, c.Fields[1].Annotations)
	assert.True(t, c.Fields[1].HasAnnotation("com/example/Inject"))

	require.Len(t, c.Methods, 3)
	assert.NotNil(t, c.FindMethod("<init>", "()V"))
	assert.NotNil(t, c.FindField("dep", "Lcom/example/Dep;"))
	assert.Nil(t, c.FindMethod("run", "(I)V"))

	run := c.FindMethod("run", "()V")
	assert.True(t, run.IsVirtual())
	assert.False(t, c.FindMethod("<init>", "()V").IsVirtual())
	assert.Equal(t, []string{"com/example/Declared"}, run.Exceptions)
	assert.Empty(t, c.FindMethod("abstractOne", "()V").Refs)
}

func TestDecode_MethodRefs(t *testing.T) {
	c, err := Decode(sampleClass().Bytes(), DecodeFull)
	require.NoError(t, err)
	refs := c.FindMethod("run", "()V").Refs

	expected := []Ref{
		{Kind: RefType, Owner: "com/example/Declared"},
		{Kind: RefType, Owner: "com/example/Oops"},
		{Kind: RefMethod, Opcode: OpInvokeVirtual, Owner: "com/example/Dep", Name: "work", Desc: "(Lcom/example/Arg;)V"},
		{Kind: RefType, Owner: "com/example/Arg"},
		{Kind: RefField, Opcode: OpGetField, Owner: "com/example/Foo", Name: "count", Desc: "I"},
		{Kind: RefType, Opcode: OpNew, Owner: "com/example/Thing"},
		{Kind: RefMethod, Opcode: OpInvokeSpecial, Owner: "com/example/Thing", Name: "<init>", Desc: "()V"},
		{Kind: RefType, Opcode: OpCheckCast, Owner: "com/example/Casted"},
		{Kind: RefType, Opcode: OpANewArray, Owner: "com/example/Elem"},
		{Kind: RefType, Opcode: OpInvokeVirtual, Owner: "java/lang/String"},
		{Kind: RefType, Owner: "java/lang/Object"},
		{Kind: RefType, Opcode: OpLdc, Owner: "com/example/Literal"},
		{Kind: RefMethod, Opcode: OpInvokeInterface, Owner: "com/example/Marker", Name: "mark", Desc: "()V", Interface: true},
	}
	for _, want := range expected {
		assert.Contains(t, refs, want)
	}
}

func TestDecode_Lambda(t *testing.T) {
	b := testutil.NewClass("com/example/Lambdas")
	b.Method(AccPublic|AccStatic, "make", "()Ljava/lang/Runnable;").
		Lambda("com/example/Lambdas", "lambda$make$0", "()V", "java/lang/Runnable", "run", "()V").
		Return()
	b.Method(AccPrivate|AccStatic|AccSynthetic, "lambda$make$0", "()V").Return()

	c, err := Decode(b.Bytes(), DecodeFull)
	require.NoError(t, err)

	refs := c.FindMethod("make", "()Ljava/lang/Runnable;").Refs
	assert.Contains(t, refs, Ref{Kind: RefMethod, Opcode: OpInvokeStatic, Owner: "com/example/Lambdas", Name: "lambda$make$0", Desc: "()V"})
	assert.Contains(t, refs, Ref{Kind: RefType, Owner: "java/lang/Runnable"})
	assert.Contains(t, refs, Ref{Kind: RefMethod, Opcode: OpInvokeStatic, Owner: "java/lang/invoke/LambdaMetafactory", Name: "metafactory", Desc: metafactoryDescForTest})
}

const metafactoryDescForTest = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;" +
	"Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;" +
	"Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"

func TestDecode_SkipCode(t *testing.T) {
	c, err := Decode(sampleClass().Bytes(), DecodeSkipCode)
	require.NoError(t, err)
	for _, m := range c.Methods {
		assert.Nil(t, m.Refs, m.Name)
	}
}

func TestDecode_Errors(t *testing.T) {
	data := sampleClass().Bytes()

	_, err := Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 52}, DecodeFull)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Decode(data[:len(data)/2], DecodeFull)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(nil, DecodeFull)
	assert.ErrorIs(t, err, ErrTruncated)

	bad := testutil.NewClass("com/example/Bad")
	bad.Method(AccPublic, "m", "()V").Raw(0xcb)
	_, err = Decode(bad.Bytes(), DecodeFull)
	assert.ErrorIs(t, err, ErrMalformed)

	// Structure still decodes when bodies are skipped.
	_, err = Decode(bad.Bytes(), DecodeSkipCode)
	assert.NoError(t, err)
}

func TestDecode_MalformedSwitch(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{
			name: "tableswitch range overflows",
			code: []byte{0x03, 0xaa, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xfe, 0x7f, 0xff, 0xff, 0xff, 0xb1},
		},
		{
			name: "tableswitch high below low",
			code: []byte{0x03, 0xaa, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0xb1},
		},
		{
			name: "tableswitch longer than code",
			code: []byte{0x03, 0xaa, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x10, 0, 0xb1},
		},
		{
			name: "lookupswitch pairs overflow",
			code: []byte{0x03, 0xab, 0, 0, 0, 0, 0, 0, 0x7f, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0xb1},
		},
		{
			name: "negative lookupswitch pairs",
			code: []byte{0x03, 0xab, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0xb1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewClass("com/example/Switch")
			b.Method(AccPublic|AccStatic, "m", "()V").Raw(tt.code...)

			var err error
			require.NotPanics(t, func() {
				_, err = Decode(b.Bytes(), DecodeFull)
			})
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRewrite(t *testing.T) {
	c, err := Decode(sampleClass().Bytes(), DecodeFull)
	require.NoError(t, err)

	out := c.Rewrite(Filter{
		KeepField:     func(f *Member) bool { return f.Name != "count" },
		KeepMethod:    func(m *Member) bool { return m.Name != "abstractOne" },
		KeepInterface: func(name string) bool { return name != "com/example/Marker" },
	})

	r, err := Decode(out, DecodeFull)
	require.NoError(t, err)
	assert.Equal(t, c.Name, r.Name)
	assert.Equal(t, c.SuperName, r.SuperName)
	assert.Equal(t, []string{"java/lang/Runnable"}, r.Interfaces)
	assert.Equal(t, "Foo.java", r.SourceFile)
	assert.Equal(t, []string{"com/example/Keep"}, r.Annotations)

	require.Len(t, r.Fields, 1)
	assert.Equal(t, "dep", r.Fields[0].Name)
	require.Len(t, r.Methods, 2)
	assert.Nil(t, r.FindMethod("abstractOne", "()V"))
	assert.Equal(t, c.FindMethod("run", "()V").Refs, r.FindMethod("run", "()V").Refs)
	assert.Less(t, len(out), len(c.Raw()))
}

func TestRewrite_KeepAll(t *testing.T) {
	data := sampleClass().Bytes()
	c, err := Decode(data, DecodeSkipCode)
	require.NoError(t, err)
	assert.Equal(t, data, c.Rewrite(Filter{}))
}

func TestDescriptors(t *testing.T) {
	assert.Equal(t, []string{"com/a/B", "java/lang/String", "com/a/C"},
		DescriptorClasses("(ILcom/a/B;[Ljava/lang/String;J)Lcom/a/C;"))
	assert.Empty(t, DescriptorClasses("(I[J)V"))

	cls, ok := ElementClass("[[Lcom/a/B;")
	assert.True(t, ok)
	assert.Equal(t, "com/a/B", cls)
	_, ok = ElementClass("[I")
	assert.False(t, ok)
	cls, ok = ElementClass("com/a/B")
	assert.True(t, ok)
	assert.Equal(t, "com/a/B", cls)

	assert.Equal(t, []string{"I", "Lcom/a/B;", "[J"}, ParameterTypes("(ILcom/a/B;[J)V"))
	assert.Nil(t, ParameterTypes("I"))
	assert.Equal(t, "V", ReturnType("(I)V"))
	assert.Equal(t, "java.lang.String[][]", TypeName("[[Ljava/lang/String;"))
	assert.Equal(t, "int", TypeName("I"))
	assert.Equal(t, "com.a.B", ClassName("com/a/B"))
	assert.Equal(t, "com/a/B", InternalName("com.a.B"))
}

func TestDecodeModifiedUTF8(t *testing.T) {
	assert.Equal(t, "plain", decodeModifiedUTF8([]byte("plain")))
	// Embedded NUL is encoded as C0 80; é as C3 A9.
	assert.Equal(t, "a\x00é", decodeModifiedUTF8([]byte{'a', 0xc0, 0x80, 0xc3, 0xa9}))
	// Supplementary characters are surrogate pairs of 3-byte sequences.
	assert.Equal(t, "😀", decodeModifiedUTF8([]byte{0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}))
}
