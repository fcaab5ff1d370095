package keep

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/class-shrinker/internal/classfile"
	apperrors "github.com/class-shrinker/pkg/errors"
)

// Kind is the keep directive of a rule.
type Kind uint8

const (
	// KindKeep keeps matching classes and the listed members.
	KindKeep Kind = iota
	// KindKeepClassMembers keeps the listed members of classes that survive.
	KindKeepClassMembers
	// KindKeepClassesWithMembers keeps classes declaring all listed members.
	KindKeepClassesWithMembers
)

var directives = map[string]Kind{
	"-keep":                   KindKeep,
	"-keepclassmembers":       KindKeepClassMembers,
	"-keepclasseswithmembers": KindKeepClassesWithMembers,
}

// Directives that only concern obfuscation, optimization or diagnostics.
// They are accepted and skipped.
var ignoredDirectives = map[string]bool{
	"-keepnames":                       true,
	"-keepclassmembernames":            true,
	"-keepclasseswithmembernames":      true,
	"-keepattributes":                  true,
	"-keeppackagenames":                true,
	"-keepparameternames":              true,
	"-dontwarn":                        true,
	"-dontnote":                        true,
	"-dontobfuscate":                   true,
	"-dontoptimize":                    true,
	"-dontpreverify":                   true,
	"-dontshrink":                      true,
	"-dontusemixedcaseclassnames":      true,
	"-dontskipnonpubliclibraryclasses": true,
	"-optimizations":                   true,
	"-optimizationpasses":              true,
	"-allowaccessmodification":         true,
	"-repackageclasses":                true,
	"-flattenpackagehierarchy":         true,
	"-renamesourcefileattribute":       true,
	"-adaptclassstrings":               true,
	"-adaptresourcefilenames":          true,
	"-adaptresourcefilecontents":       true,
	"-printmapping":                    true,
	"-printseeds":                      true,
	"-printusage":                      true,
	"-printconfiguration":              true,
	"-verbose":                         true,
	"-assumenosideeffects":             true,
	"-ignorewarnings":                  true,
}

// Config is a parsed set of keep rules.
type Config struct {
	Rules []*Rule
	// Ignored counts directives that were accepted but have no effect.
	Ignored int
}

// Rule is one keep directive with its class specification.
type Rule struct {
	Kind    Kind
	Class   ClassSpec
	Members []MemberSpec
	Source  string
}

// ClassSpec selects classes.
type ClassSpec struct {
	Annotation *regexp.Regexp
	Access     AccessSpec
	Names      []NamePattern
	Extends    *regexp.Regexp
}

// NamePattern is one entry of a comma-separated class name list.
type NamePattern struct {
	Pattern *regexp.Regexp
	Negated bool
}

// AccessSpec holds required and forbidden access flags.
type AccessSpec struct {
	Required  uint16
	Forbidden uint16
}

func (a AccessSpec) matches(flags uint16) bool {
	return flags&a.Required == a.Required && flags&a.Forbidden == 0
}

type memberKind uint8

const (
	memberAll memberKind = iota
	memberFields
	memberMethods
	memberField
	memberMethod
)

// MemberSpec selects fields or methods of a matched class.
type MemberSpec struct {
	kind       memberKind
	Annotation *regexp.Regexp
	Access     AccessSpec
	Name       *regexp.Regexp
	Desc       *regexp.Regexp
}

var memberModifiers = map[string]uint16{
	"public":       classfile.AccPublic,
	"private":      classfile.AccPrivate,
	"protected":    classfile.AccProtected,
	"static":       classfile.AccStatic,
	"final":        classfile.AccFinal,
	"synchronized": 0x0020,
	"volatile":     0x0040,
	"bridge":       0x0040,
	"transient":    0x0080,
	"varargs":      0x0080,
	"native":       0x0100,
	"abstract":     classfile.AccAbstract,
	"strictfp":     0x0800,
	"synthetic":    classfile.AccSynthetic,
}

var classModifiers = map[string]uint16{
	"public":    classfile.AccPublic,
	"final":     classfile.AccFinal,
	"abstract":  classfile.AccAbstract,
	"synthetic": classfile.AccSynthetic,
}

// ParseFiles parses ProGuard configuration files. -include directives are
// resolved relative to the including file.
func ParseFiles(paths ...string) (*Config, error) {
	cfg := &Config{}
	for _, path := range paths {
		if err := cfg.parseFile(path, 0); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse parses rules from text. name is used in error messages.
func Parse(name, text string) (*Config, error) {
	cfg := &Config{}
	if err := cfg.parse(name, text, "", 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge appends the rules of other configs.
func (c *Config) Merge(others ...*Config) *Config {
	for _, o := range others {
		if o == nil {
			continue
		}
		c.Rules = append(c.Rules, o.Rules...)
		c.Ignored += o.Ignored
	}
	return c
}

const maxIncludeDepth = 16

func (c *Config) parseFile(path string, depth int) error {
	if depth > maxIncludeDepth {
		return apperrors.Newf(apperrors.CodeConfigError, "%s: -include nested too deeply", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfigError, "failed to read keep rules", err)
	}
	return c.parse(path, string(data), filepath.Dir(path), depth)
}

func (c *Config) parse(name, text, dir string, depth int) error {
	p := &parser{name: name, toks: tokenize(text)}
	for !p.done() {
		tok := p.next()
		if !strings.HasPrefix(tok.text, "-") {
			return p.errorf(tok, "expected a directive, got %q", tok.text)
		}
		switch {
		case tok.text == "-include":
			if p.done() {
				return p.errorf(tok, "-include needs a file")
			}
			path := p.next().text
			if !filepath.IsAbs(path) && dir != "" {
				path = filepath.Join(dir, path)
			}
			if err := c.parseFile(path, depth+1); err != nil {
				return err
			}
		case isDirective(tok.text):
			rule, err := p.parseRule(directives[tok.text])
			if err != nil {
				return err
			}
			if rule != nil {
				rule.Source = fmt.Sprintf("%s:%d", name, tok.line)
				c.Rules = append(c.Rules, rule)
			} else {
				c.Ignored++
			}
		case ignoredDirectives[tok.text]:
			p.skipDirective()
			c.Ignored++
		default:
			return p.errorf(tok, "unsupported directive %s", tok.text)
		}
	}
	return nil
}

func isDirective(s string) bool {
	_, ok := directives[s]
	return ok
}

type token struct {
	text string
	line int
}

func isSeparator(r rune) bool {
	switch r {
	case '{', '}', ';', '(', ')', ',':
		return true
	}
	return false
}

func tokenize(text string) []token {
	var toks []token
	line := 1
	rs := []rune(text)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\n':
			line++
			i++
		case r == ' ' || r == '\t' || r == '\r':
			i++
		case r == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case isSeparator(r):
			toks = append(toks, token{text: string(r), line: line})
			i++
		default:
			start := i
			for i < len(rs) && !isSeparator(rs[i]) && !strings.ContainsRune(" \t\r\n#", rs[i]) {
				i++
			}
			toks = append(toks, token{text: string(rs[start:i]), line: line})
		}
	}
	return toks
}

type parser struct {
	name string
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() string {
	if p.done() {
		return ""
	}
	return p.toks[p.pos].text
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) last() token {
	if len(p.toks) == 0 {
		return token{line: 1}
	}
	if p.pos == 0 {
		return p.toks[0]
	}
	return p.toks[p.pos-1]
}

func (p *parser) expect(text string) error {
	if p.done() {
		return p.errorf(p.last(), "expected %q at end of input", text)
	}
	if t := p.next(); t.text != text {
		return p.errorf(t, "expected %q, got %q", text, t.text)
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeConfigError, "%s:%d: %s", p.name, t.line, fmt.Sprintf(format, args...))
}

// skipDirective consumes tokens up to the next directive outside braces.
func (p *parser) skipDirective() {
	depth := 0
	for !p.done() {
		t := p.peek()
		if depth == 0 && strings.HasPrefix(t, "-") {
			return
		}
		switch t {
		case "{":
			depth++
		case "}":
			depth--
		}
		p.pos++
	}
}

// parseRule parses the modifiers and class specification following a keep
// directive. It returns nil for rules that allow shrinking.
func (p *parser) parseRule(kind Kind) (*Rule, error) {
	allowShrinking := false
	for p.peek() == "," {
		p.pos++
		if p.done() {
			return nil, p.errorf(p.last(), "missing keep option")
		}
		switch opt := p.next(); opt.text {
		case "allowshrinking":
			allowShrinking = true
		case "allowobfuscation", "allowoptimization", "includedescriptorclasses", "includecode":
		default:
			return nil, p.errorf(opt, "unknown keep option %q", opt.text)
		}
	}

	rule := &Rule{Kind: kind}
	if err := p.parseClassSpec(&rule.Class); err != nil {
		return nil, err
	}
	if p.peek() == "{" {
		p.pos++
		for p.peek() != "}" {
			if p.done() {
				return nil, p.errorf(p.last(), "unterminated member list")
			}
			spec, err := p.parseMemberSpec()
			if err != nil {
				return nil, err
			}
			rule.Members = append(rule.Members, spec)
		}
		p.pos++
	}
	if allowShrinking {
		return nil, nil
	}
	return rule, nil
}

func (p *parser) parseClassSpec(spec *ClassSpec) error {
	for {
		if p.done() {
			return p.errorf(p.last(), "missing class specification")
		}
		t := p.next()
		word, negated := strings.CutPrefix(t.text, "!")

		switch {
		case word == "class":
			if negated {
				return p.errorf(t, "!class is not supported")
			}
		case word == "interface":
			setFlag(&spec.Access, classfile.AccInterface, negated)
		case word == "enum":
			setFlag(&spec.Access, classfile.AccEnum, negated)
		case word == "@interface":
			setFlag(&spec.Access, classfile.AccAnnotation, negated)
		case strings.HasPrefix(t.text, "@"):
			if spec.Annotation != nil {
				return p.errorf(t, "duplicate annotation")
			}
			spec.Annotation = classPattern(t.text[1:])
			continue
		default:
			flag, ok := classModifiers[word]
			if !ok {
				return p.errorf(t, "expected class, interface or enum, got %q", t.text)
			}
			setFlag(&spec.Access, flag, negated)
			continue
		}
		break
	}

	for {
		if p.done() {
			return p.errorf(p.last(), "missing class name")
		}
		t := p.next()
		name, negated := strings.CutPrefix(t.text, "!")
		if name == "" || isSeparator(rune(name[0])) {
			return p.errorf(t, "expected class name, got %q", t.text)
		}
		spec.Names = append(spec.Names, NamePattern{Pattern: classPattern(name), Negated: negated})
		if p.peek() != "," {
			break
		}
		p.pos++
	}

	if w := p.peek(); w == "extends" || w == "implements" {
		p.pos++
		if p.done() {
			return p.errorf(p.last(), "missing supertype after %s", w)
		}
		t := p.next()
		if strings.HasPrefix(t.text, "@") {
			return p.errorf(t, "annotated supertypes are not supported")
		}
		spec.Extends = classPattern(t.text)
	}
	return nil
}

func setFlag(a *AccessSpec, flag uint16, negated bool) {
	if negated {
		a.Forbidden |= flag
	} else {
		a.Required |= flag
	}
}

func (p *parser) parseMemberSpec() (MemberSpec, error) {
	var spec MemberSpec
	for {
		if p.done() {
			return spec, p.errorf(p.last(), "unterminated member specification")
		}
		t := p.peek()
		if strings.HasPrefix(t, "@") {
			p.pos++
			spec.Annotation = classPattern(t[1:])
			continue
		}
		word, negated := strings.CutPrefix(t, "!")
		flag, ok := memberModifiers[word]
		if !ok {
			break
		}
		p.pos++
		setFlag(&spec.Access, flag, negated)
	}

	t := p.next()
	switch t.text {
	case "*":
		if p.peek() == ";" {
			spec.kind = memberAll
			return spec, p.expect(";")
		}
	case "<fields>":
		spec.kind = memberFields
		return spec, p.expect(";")
	case "<methods>":
		spec.kind = memberMethods
		return spec, p.expect(";")
	case "<init>", "<clinit>":
		spec.kind = memberMethod
		spec.Name = regexp.MustCompile("^" + regexp.QuoteMeta(t.text) + "$")
		args, err := p.parseArgs()
		if err != nil {
			return spec, err
		}
		spec.Desc = regexp.MustCompile(`^\(` + args + `\)V$`)
		return spec, p.expect(";")
	}

	if p.done() {
		return spec, p.errorf(t, "missing member name")
	}
	nameTok := p.next()
	spec.Name = memberPattern(nameTok.text)
	if p.peek() == "(" {
		spec.kind = memberMethod
		args, err := p.parseArgs()
		if err != nil {
			return spec, err
		}
		ret, err := typeRegex(t.text, true)
		if err != nil {
			return spec, p.errorf(t, "%v", err)
		}
		spec.Desc = regexp.MustCompile(`^\(` + args + `\)` + ret + `$`)
	} else {
		spec.kind = memberField
		typ, err := typeRegex(t.text, false)
		if err != nil {
			return spec, p.errorf(t, "%v", err)
		}
		spec.Desc = regexp.MustCompile("^" + typ + "$")
	}
	return spec, p.expect(";")
}

func (p *parser) parseArgs() (string, error) {
	if err := p.expect("("); err != nil {
		return "", err
	}
	var b strings.Builder
	for p.peek() != ")" {
		if p.done() {
			return "", p.errorf(p.last(), "unterminated argument list")
		}
		t := p.next()
		if t.text == "," {
			continue
		}
		if t.text == "..." {
			b.WriteString(`(?:\[*(?:[BCDFIJSZ]|L[^;]+;))*`)
			continue
		}
		re, err := typeRegex(t.text, false)
		if err != nil {
			return "", p.errorf(t, "%v", err)
		}
		b.WriteString(re)
	}
	p.pos++
	return b.String(), nil
}

var primitives = map[string]string{
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
	"void":    "V",
}

// typeRegex converts a ProGuard type pattern to a regular expression over
// field descriptors.
func typeRegex(typ string, allowVoid bool) (string, error) {
	dims := 0
	for strings.HasSuffix(typ, "[]") {
		typ = strings.TrimSuffix(typ, "[]")
		dims++
	}
	prefix := strings.Repeat(`\[`, dims)

	switch typ {
	case "***":
		if allowVoid {
			return `(?:V|\[*(?:[BCDFIJSZ]|L[^;]+;))`, nil
		}
		return `\[*(?:[BCDFIJSZ]|L[^;]+;)`, nil
	case "%":
		return prefix + `[BCDFIJSZ]`, nil
	case "":
		return "", fmt.Errorf("empty type")
	}
	if d, ok := primitives[typ]; ok {
		if d == "V" && (!allowVoid || dims > 0) {
			return "", fmt.Errorf("void is only valid as a return type")
		}
		return prefix + d, nil
	}
	return prefix + "L" + classRegex(typ) + ";", nil
}

// classRegex converts a dotted class name pattern to an unanchored regular
// expression over internal names.
func classRegex(pattern string) string {
	var b strings.Builder
	rs := []rune(pattern)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				b.WriteString(`.*`)
				i++
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`[^/]`)
		case '.':
			b.WriteByte('/')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// classPattern compiles a class name pattern. A lone "*" matches classes in
// every package.
func classPattern(pattern string) *regexp.Regexp {
	if pattern == "*" {
		return regexp.MustCompile(`^.*$`)
	}
	return regexp.MustCompile("^" + classRegex(pattern) + "$")
}

func memberPattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}
