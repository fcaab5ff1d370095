package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testData struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestJSONWriter_Write(t *testing.T) {
	data := testData{Name: "test", Value: 42}

	t.Run("Compact", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewJSONWriter[testData]().Write(data, &buf))
		assert.Equal(t, `{"name":"test","value":42}`+"\n", buf.String())
	})

	t.Run("Pretty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrettyJSONWriter[testData]().Write(data, &buf))
		assert.Contains(t, buf.String(), "\n  \"name\": \"test\"")
	})

	t.Run("Unsupported", func(t *testing.T) {
		var buf bytes.Buffer
		err := NewJSONWriter[func()]().Write(func() {}, &buf)
		assert.Error(t, err)
	})
}

func TestGzipWriter_Write(t *testing.T) {
	data := testData{Name: "gzip", Value: 7}

	var buf bytes.Buffer
	require.NoError(t, NewGzipWriter[testData](0).Write(data, &buf))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()

	var decoded testData
	require.NoError(t, json.NewDecoder(zr).Decode(&decoded))
	assert.Equal(t, data, decoded)
}

func TestNewGzipWriter_Level(t *testing.T) {
	assert.Equal(t, gzip.BestSpeed, NewGzipWriter[testData](1).Level)
	assert.Equal(t, gzip.DefaultCompression, NewGzipWriter[testData](42).Level)
}

func TestForPath(t *testing.T) {
	assert.IsType(t, &GzipWriter[testData]{}, ForPath[testData]("out/report.json.gz"))
	assert.IsType(t, &JSONWriter[testData]{}, ForPath[testData]("out/report.json"))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	data := testData{Name: "file", Value: 1}

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "nested", "report.json")
		require.NoError(t, WriteFile(path, data))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var decoded testData
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, data, decoded)
	})

	t.Run("Gzip", func(t *testing.T) {
		path := filepath.Join(dir, "report.json.gz")
		require.NoError(t, WriteFile(path, data))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		var decoded testData
		require.NoError(t, json.NewDecoder(zr).Decode(&decoded))
		assert.Equal(t, data, decoded)
	})

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		err := WriteFile[func()](path, func() {})
		require.Error(t, err)

		_, statErr := os.Stat(path)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})
}

func TestWriteBytes_ReplacesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app", "Main.class")
	require.NoError(t, WriteBytes(path, []byte("first")))
	require.NoError(t, WriteBytes(path, []byte("second")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomic_KeepsOldContentOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, WriteBytes(path, []byte("old")))

	boom := errors.New("boom")
	err := WriteAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(raw))
}
