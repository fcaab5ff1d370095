// Package testutil provides utilities for testing.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// WriteClass writes a built class under root at its package path and
// returns the file path.
func WriteClass(t *testing.T, root string, b *ClassBuilder) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(b.name)+".class")
	WriteBytes(t, path, b.Bytes())
	return path
}

// WriteBytes writes data to path, creating parent directories.
func WriteBytes(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// WriteJar writes the built classes into a jar at path.
func WriteJar(t *testing.T, path string, classes ...*ClassBuilder) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create jar: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, c := range classes {
		w, err := zw.Create(c.name + ".class")
		if err != nil {
			t.Fatalf("failed to add jar entry: %v", err)
		}
		if _, err := w.Write(c.Bytes()); err != nil {
			t.Fatalf("failed to write jar entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close jar: %v", err)
	}
	return path
}

// FileExists checks if a file exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

// ReadFile reads a file and returns its contents.
func ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return data
}
