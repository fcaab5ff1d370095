package classfile

import (
	"strings"
)

// ElementClass returns the class a type name denotes. Array descriptors are
// unwrapped to their element class; primitive arrays yield ok=false.
func ElementClass(name string) (string, bool) {
	if !strings.HasPrefix(name, "[") {
		return name, name != ""
	}
	elem := strings.TrimLeft(name, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1], true
	}
	return "", false
}

// DescriptorClasses returns the classes mentioned by a field or method
// descriptor, in order of appearance, including duplicates.
func DescriptorClasses(desc string) []string {
	var out []string
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			break
		}
		out = append(out, desc[i+1:i+end])
		i += end
	}
	return out
}

// ClassName converts an internal name (com/example/Foo) to a binary name
// (com.example.Foo).
func ClassName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a binary name to an internal name.
func InternalName(binary string) string {
	return strings.ReplaceAll(binary, ".", "/")
}

// ParameterTypes returns the parameter type descriptors of a method
// descriptor, or nil if desc is not a method descriptor.
func ParameterTypes(desc string) []string {
	if !strings.HasPrefix(desc, "(") {
		return nil
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return nil
	}
	var params []string
	s := desc[1:end]
	for len(s) > 0 {
		n := typeLen(s)
		if n == 0 {
			return params
		}
		params = append(params, s[:n])
		s = s[n:]
	}
	return params
}

// ReturnType returns the return type descriptor of a method descriptor.
func ReturnType(desc string) string {
	if i := strings.IndexByte(desc, ')'); i >= 0 {
		return desc[i+1:]
	}
	return ""
}

func typeLen(s string) int {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0
	}
	if s[i] == 'L' {
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0
		}
		return i + end + 1
	}
	return i + 1
}

// TypeName renders a type descriptor in source form, e.g. "[Ljava/lang/String;"
// becomes "java.lang.String[]".
func TypeName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch base {
	case "B":
		name = "byte"
	case "C":
		name = "char"
	case "D":
		name = "double"
	case "F":
		name = "float"
	case "I":
		name = "int"
	case "J":
		name = "long"
	case "S":
		name = "short"
	case "Z":
		name = "boolean"
	case "V":
		name = "void"
	default:
		name = ClassName(strings.TrimSuffix(strings.TrimPrefix(base, "L"), ";"))
	}
	return name + strings.Repeat("[]", dims)
}
