package shrinker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/class-shrinker/pkg/errors"
)

// Mapping pairs an input root of class files with the root its shrunk
// classes are written to.
type Mapping struct {
	Input  string
	Output string

	// Subfolders treats every direct sub-folder of Input as its own root,
	// written to the same-named sub-folder of Output.
	Subfolders bool
}

// Layout maps input class files to output locations.
type Layout struct {
	Mappings []Mapping
}

// NewLayout creates a layout from mappings. Paths are cleaned.
func NewLayout(mappings ...Mapping) *Layout {
	l := &Layout{}
	for _, m := range mappings {
		l.Mappings = append(l.Mappings, Mapping{
			Input:      filepath.Clean(m.Input),
			Output:     filepath.Clean(m.Output),
			Subfolders: m.Subfolders,
		})
	}
	return l
}

// roots expands sub-folder mappings into plain input/output pairs.
func (l *Layout) roots() ([]Mapping, error) {
	var out []Mapping
	for _, m := range l.Mappings {
		if !m.Subfolders {
			out = append(out, m)
			continue
		}
		entries, err := os.ReadDir(m.Input)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to list input folder", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				out = append(out, Mapping{
					Input:  filepath.Join(m.Input, e.Name()),
					Output: filepath.Join(m.Output, e.Name()),
				})
			}
		}
	}
	return out, nil
}

// OutputFor returns the output path of an input class file. Files outside
// every input root are not mapped.
func (l *Layout) OutputFor(file string) (string, bool) {
	file = filepath.Clean(file)
	for _, m := range l.Mappings {
		rel, err := filepath.Rel(m.Input, file)
		if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			continue
		}
		if m.Subfolders && !strings.Contains(rel, string(filepath.Separator)) {
			// Files directly under a multi-folder root belong to no sub-folder.
			continue
		}
		return filepath.Join(m.Output, rel), true
	}
	return "", false
}

// ClassFiles returns every .class file below the input roots in a stable
// order.
func (l *Layout) ClassFiles() ([]string, error) {
	roots, err := l.roots()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, r := range roots {
		err := filepath.WalkDir(r.Input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == r.Input {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".class") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to walk input folder "+r.Input, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CleanOutputs empties every output root before a full run. A multi-folder
// output is emptied as a whole, so sub-folders whose input was deleted do not
// survive.
func (l *Layout) CleanOutputs() error {
	roots, err := l.roots()
	if err != nil {
		return err
	}
	for _, m := range l.Mappings {
		if err := os.RemoveAll(m.Output); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to clean output folder "+m.Output, err)
		}
	}
	for _, r := range roots {
		if err := os.MkdirAll(r.Output, 0755); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to create output folder "+r.Output, err)
		}
	}
	return nil
}
