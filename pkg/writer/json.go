// Package writer encodes reports as JSON files, optionally gzip-compressed,
// and replaces output files atomically.
package writer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Encoder writes data to an io.Writer.
type Encoder[T any] interface {
	Write(data T, w io.Writer) error
}

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent is the per-level indentation. Empty means compact output.
	Indent string
}

// NewJSONWriter creates a JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with two-space indentation.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write encodes data to w.
func (j *JSONWriter[T]) Write(data T, w io.Writer) error {
	enc := json.NewEncoder(w)
	if j.Indent != "" {
		enc.SetIndent("", j.Indent)
	}
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// GzipWriter writes compact JSON through a gzip stream.
type GzipWriter[T any] struct {
	Level int
}

// NewGzipWriter creates a gzip writer. Levels outside 1-9 use the default.
func NewGzipWriter[T any](level int) *GzipWriter[T] {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipWriter[T]{Level: level}
}

// Write encodes data to w as gzipped JSON.
func (g *GzipWriter[T]) Write(data T, w io.Writer) error {
	zw, err := gzip.NewWriterLevel(w, g.Level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if err := NewJSONWriter[T]().Write(data, zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ForPath returns the encoder matching the file extension of path: gzip for
// ".gz", pretty JSON otherwise.
func ForPath[T any](path string) Encoder[T] {
	if strings.HasSuffix(path, ".gz") {
		return NewGzipWriter[T](gzip.DefaultCompression)
	}
	return NewPrettyJSONWriter[T]()
}

// WriteFile encodes data into path. The file is replaced atomically so a
// reader never sees a partial report.
func WriteFile[T any](path string, data T) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return ForPath[T](path).Write(data, w)
	})
}

// WriteBytes replaces path with data atomically.
func WriteBytes(path string, data []byte) error {
	return WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic creates the parent folder of path, lets write fill a temporary
// file next to it and renames the result over path.
func WriteAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
