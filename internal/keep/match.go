package keep

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/class-shrinker/internal/classfile"
)

// DefaultCacheSize is the number of class match results kept by a Matcher.
const DefaultCacheSize = 4096

// Matcher evaluates a Config. Class-level match results are cached per class
// name; call Invalidate when a class changes between evaluations.
type Matcher struct {
	rules []*Rule
	cache *lru.Cache[string, []classMatch]
}

// classMatch is a rule whose class specification matched, with the outcome
// of its -keepclasseswithmembers condition.
type classMatch struct {
	rule        *Rule
	withMembers bool
}

// NewMatcher compiles cfg into rules. cacheSize <= 0 selects the default.
func NewMatcher(cfg *Config, cacheSize int) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []classMatch](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create keep rule cache: %w", err)
	}
	var rules []*Rule
	if cfg != nil {
		rules = cfg.Rules
	}
	return &Matcher{rules: rules, cache: cache}, nil
}

// Len returns the number of effective rules.
func (m *Matcher) Len() int { return len(m.rules) }

// Invalidate drops the cached match result of class.
func (m *Matcher) Invalidate(class string) {
	m.cache.Remove(class)
}

// Evaluate implements Rules.
func (m *Matcher) Evaluate(h Hierarchy, c *classfile.Class, member *classfile.Member) Decision {
	best := Discard
	for _, cm := range m.classMatches(h, c) {
		var d Decision
		switch cm.rule.Kind {
		case KindKeep:
			if member == nil || cm.rule.matchesMember(member) {
				d = Keep
			}
		case KindKeepClassMembers:
			if member != nil && cm.rule.matchesMember(member) {
				d = KeepIfClassKept
			}
		case KindKeepClassesWithMembers:
			if cm.withMembers && (member == nil || cm.rule.matchesMember(member)) {
				d = Keep
			}
		}
		if d > best {
			best = d
		}
		if best == Keep {
			break
		}
	}
	return best
}

func (m *Matcher) classMatches(h Hierarchy, c *classfile.Class) []classMatch {
	if cached, ok := m.cache.Get(c.Name); ok {
		return cached
	}
	var matches []classMatch
	var ancestors []string
	for _, r := range m.rules {
		if r.Class.Extends != nil && ancestors == nil {
			ancestors = Supertypes(h, c.Name)
		}
		if !r.Class.matches(c, ancestors) {
			continue
		}
		matches = append(matches, classMatch{
			rule:        r,
			withMembers: r.Kind == KindKeepClassesWithMembers && r.allMembersPresent(c),
		})
	}
	m.cache.Add(c.Name, matches)
	return matches
}

func (s *ClassSpec) matches(c *classfile.Class, ancestors []string) bool {
	if !s.Access.matches(c.AccessFlags) {
		return false
	}
	if !matchNames(s.Names, c.Name) {
		return false
	}
	if s.Annotation != nil && !anyMatch(s.Annotation.MatchString, c.Annotations) {
		return false
	}
	if s.Extends != nil && !anyMatch(s.Extends.MatchString, ancestors) {
		return false
	}
	return true
}

// matchNames applies a ProGuard name list: the first pattern that matches
// decides, and a negated pattern rejects.
func matchNames(names []NamePattern, name string) bool {
	for _, n := range names {
		if n.Pattern.MatchString(name) {
			return !n.Negated
		}
	}
	return false
}

func anyMatch(match func(string) bool, values []string) bool {
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}

func (r *Rule) matchesMember(m *classfile.Member) bool {
	for i := range r.Members {
		if r.Members[i].matches(m) {
			return true
		}
	}
	return false
}

func (r *Rule) allMembersPresent(c *classfile.Class) bool {
	for i := range r.Members {
		spec := &r.Members[i]
		found := false
		for _, m := range c.Fields {
			if spec.matches(m) {
				found = true
				break
			}
		}
		for _, m := range c.Methods {
			if found {
				break
			}
			found = spec.matches(m)
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *MemberSpec) matches(m *classfile.Member) bool {
	isMethod := m.IsMethod()
	switch s.kind {
	case memberFields, memberField:
		if isMethod {
			return false
		}
	case memberMethods, memberMethod:
		if !isMethod {
			return false
		}
	}
	if !s.Access.matches(m.AccessFlags) {
		return false
	}
	if s.Annotation != nil && !anyMatch(s.Annotation.MatchString, m.Annotations) {
		return false
	}
	if s.Name != nil && !s.Name.MatchString(m.Name) {
		return false
	}
	if s.Desc != nil && !s.Desc.MatchString(m.Desc) {
		return false
	}
	return true
}
