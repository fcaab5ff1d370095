package graph

import (
	"sort"

	apperrors "github.com/class-shrinker/pkg/errors"
)

func (s *Store) class(name string) (*classInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.classes[name]
	return ci, ok
}

// HasClass reports whether a class file was scanned for name.
func (s *Store) HasClass(name string) bool {
	_, ok := s.class(name)
	return ok
}

// IsProgramClass reports whether name was scanned from a program input.
func (s *Store) IsProgramClass(name string) bool {
	ci, ok := s.class(name)
	return ok && !ci.library
}

// IsLibraryMember reports whether m belongs to a library class or to a
// class that was never scanned. Such members are outside the shrinker's
// control.
func (s *Store) IsLibraryMember(m Member) bool {
	ci, ok := s.class(m.Class)
	return !ok || ci.library
}

// Superclass returns the direct superclass of class, if it is known.
func (s *Store) Superclass(class string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.classes[class]
	if !ok || ci.super == "" {
		return "", false
	}
	return ci.super, true
}

// Interfaces returns the directly implemented interfaces of class.
func (s *Store) Interfaces(class string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ci, ok := s.classes[class]; ok {
		return append([]string(nil), ci.interfaces...)
	}
	return nil
}

// Members returns the declared methods and fields of class in declaration
// order.
func (s *Store) Members(class string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ci, ok := s.classes[class]; ok {
		return append([]Member(nil), ci.members...)
	}
	return nil
}

// FindMatchingMember looks up a member declared by class itself with the
// given name and descriptor.
func (s *Store) FindMatchingMember(class, name, desc string) (Member, bool) {
	m := Member{Class: class, Name: name, Desc: desc}
	if !s.HasClass(class) {
		return Member{}, false
	}
	if !s.IsDeclared(m) {
		return Member{}, false
	}
	return m, true
}

// ClassForMember returns the node key of the class declaring m.
func (s *Store) ClassForMember(m Member) Member {
	return m.Owner()
}

// ClassFile returns the input file a program class was read from.
func (s *Store) ClassFile(class string) (string, bool) {
	ci, ok := s.class(class)
	if !ok || ci.library || ci.file == "" {
		return "", false
	}
	return ci.file, true
}

// ClassForFile returns the program class read from file.
func (s *Store) ClassForFile(file string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.files[file]
	return name, ok
}

// ProgramClasses returns all program classes in name order, including
// removed ones.
func (s *Store) ProgramClasses() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.classes))
	for name, ci := range s.classes {
		if !ci.library {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ClassCount returns the number of scanned program and library classes.
func (s *Store) ClassCount() (program, library int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ci := range s.classes {
		if ci.library {
			library++
		} else {
			program++
		}
	}
	return program, library
}

// MarkRemoved flags a program class whose input file was deleted. Its nodes
// stay in the graph so the bookkeeping of incoming edges remains valid.
func (s *Store) MarkRemoved(class string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.classes[class]
	if !ok || ci.library {
		return apperrors.Newf(apperrors.CodeInconsistentGraph, "cannot remove unknown program class %s", class)
	}
	ci.removed = true
	delete(s.files, ci.file)
	return nil
}

// IsRemoved reports whether class was marked removed.
func (s *Store) IsRemoved(class string) bool {
	ci, ok := s.class(class)
	return ok && ci.removed
}

// ClassesToKeep returns the program classes that survive for target: the
// class itself or at least one of its members is reachable.
func (s *Store) ClassesToKeep(target ShrinkTarget) []string {
	var keep []string
	for _, name := range s.ProgramClasses() {
		if s.KeepClass(name, target) {
			keep = append(keep, name)
		}
	}
	return keep
}

// KeepClass reports whether references to class survive for target.
// Library and unknown classes are always kept.
func (s *Store) KeepClass(name string, target ShrinkTarget) bool {
	ci, ok := s.class(name)
	if !ok || ci.library {
		return true
	}
	if ci.removed {
		return false
	}
	return s.IsReachable(ClassMember(name), target) || len(s.MembersToKeep(name, target)) > 0
}

// MembersToKeep returns the reachable declared members of class.
func (s *Store) MembersToKeep(class string, target ShrinkTarget) []Member {
	var keep []Member
	for _, m := range s.Members(class) {
		if s.IsReachable(m, target) {
			keep = append(keep, m)
		}
	}
	return keep
}
