package shrinker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/testutil"
)

func TestLayout_OutputFor(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(
		Mapping{Input: filepath.Join(root, "classes"), Output: filepath.Join(root, "out")},
		Mapping{Input: filepath.Join(root, "multi") + "/", Output: filepath.Join(root, "multi-out"), Subfolders: true},
	)

	tests := []struct {
		name   string
		file   string
		want   string
		wantOK bool
	}{
		{"plain root", filepath.Join(root, "classes", "app", "Main.class"), filepath.Join(root, "out", "app", "Main.class"), true},
		{"sub-folder root", filepath.Join(root, "multi", "a", "app", "X.class"), filepath.Join(root, "multi-out", "a", "app", "X.class"), true},
		{"directly under multi-folder root", filepath.Join(root, "multi", "X.class"), "", false},
		{"outside every root", filepath.Join(root, "other", "X.class"), "", false},
		{"sibling with common prefix", filepath.Join(root, "classes2", "X.class"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.OutputFor(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout_ClassFiles(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	multi := filepath.Join(root, "multi")
	b := testutil.NewClass("app/B")
	testutil.WriteClass(t, in, b)
	testutil.WriteClass(t, in, testutil.NewClass("app/A"))
	testutil.WriteBytes(t, filepath.Join(in, "app", "notes.txt"), []byte("x"))
	testutil.WriteClass(t, filepath.Join(multi, "one"), testutil.NewClass("lib/C"))
	testutil.WriteBytes(t, filepath.Join(multi, "Loose.class"), b.Bytes())

	l := NewLayout(
		Mapping{Input: in, Output: filepath.Join(root, "out")},
		Mapping{Input: multi, Output: filepath.Join(root, "multi-out"), Subfolders: true},
		Mapping{Input: filepath.Join(root, "missing"), Output: filepath.Join(root, "missing-out")},
	)
	files, err := l.ClassFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(in, "app", "A.class"),
		filepath.Join(in, "app", "B.class"),
		filepath.Join(multi, "one", "lib", "C.class"),
	}, files)
}

func TestLayout_CleanOutputs(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	testutil.WriteBytes(t, filepath.Join(out, "app", "Old.class"), []byte("old"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "multi", "one"), 0755))
	stale := filepath.Join(root, "multi-out", "gone", "app", "Stale.class")
	testutil.WriteBytes(t, stale, []byte("stale"))

	l := NewLayout(
		Mapping{Input: filepath.Join(root, "in"), Output: out},
		Mapping{Input: filepath.Join(root, "multi"), Output: filepath.Join(root, "multi-out"), Subfolders: true},
	)
	require.NoError(t, l.CleanOutputs())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.DirExists(t, filepath.Join(root, "multi-out", "one"))
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Join(root, "multi-out", "gone"))
}
