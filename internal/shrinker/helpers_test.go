package shrinker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/keep"
	"github.com/class-shrinker/internal/testutil"
)

const (
	accPublicStatic = classfile.AccPublic | classfile.AccStatic
	objectClass     = "java/lang/Object"
)

// memoryState is an in-memory graph.StateStore.
type memoryState struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{objects: make(map[string][]byte)}
}

func (m *memoryState) Upload(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryState) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryState) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryState) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// project is a program input folder, its output folder and a state store.
type project struct {
	t      *testing.T
	dir    string
	in     string
	out    string
	layout *Layout
	state  *memoryState
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	p := &project{
		t:     t,
		dir:   dir,
		in:    filepath.Join(dir, "in"),
		out:   filepath.Join(dir, "out"),
		state: newMemoryState(),
	}
	require.NoError(t, os.MkdirAll(p.in, 0755))
	p.layout = NewLayout(Mapping{Input: p.in, Output: p.out})
	return p
}

func (p *project) write(b *testutil.ClassBuilder) string {
	p.t.Helper()
	return testutil.WriteClass(p.t, p.in, b)
}

func (p *project) file(class string) string {
	return filepath.Join(p.in, filepath.FromSlash(class)+".class")
}

func (p *project) jar(name string, classes ...*testutil.ClassBuilder) string {
	p.t.Helper()
	return testutil.WriteJar(p.t, filepath.Join(p.dir, "libs", name), classes...)
}

// output decodes the shrunk class, or returns nil if it was not written.
func (p *project) output(class string) *classfile.Class {
	p.t.Helper()
	path := filepath.Join(p.out, filepath.FromSlash(class)+".class")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(p.t, err)
	c, err := classfile.Decode(data, classfile.DecodeFull)
	require.NoError(p.t, err)
	return c
}

func (p *project) shrinker(options ...Option) *Shrinker {
	return New(Options{Workers: 4}, append([]Option{WithStateStore(p.state)}, options...)...)
}

// keepMembers keeps classes named "pkg/Class" and members named
// "pkg/Class.member".
func keepMembers(keys ...string) keep.Rules {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return keep.Func(func(c *classfile.Class, m *classfile.Member) keep.Decision {
		key := c.Name
		if m != nil {
			key += "." + m.Name
		}
		if set[key] {
			return keep.Keep
		}
		return keep.Discard
	})
}

func shrinkRules(keys ...string) RuleSet {
	return RuleSet{graph.TargetShrink: keepMembers(keys...)}
}

func method(class, name, desc string) graph.Member {
	return graph.Member{Class: class, Name: name, Desc: desc}
}

// declare registers a class and members given as "name desc".
func declare(t *testing.T, s *graph.Store, name, super string, library bool, interfaces []string, members ...string) {
	t.Helper()
	_, err := s.AddClass(name, super, interfaces, library, "")
	require.NoError(t, err)
	for _, m := range members {
		parts := strings.SplitN(m, " ", 2)
		_, err := s.AddMember(name, parts[0], parts[1])
		require.NoError(t, err)
	}
}

func hasMethod(c *classfile.Class, name, desc string) bool {
	return c != nil && c.FindMethod(name, desc) != nil
}
