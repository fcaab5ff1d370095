package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("com/example/Foo.bar()V "), 1000)

	for _, typ := range []Type{TypeNone, TypeZstd} {
		t.Run(typ.String(), func(t *testing.T) {
			compressed, err := Compress(data, typ)
			require.NoError(t, err)
			if typ == TypeZstd {
				assert.Less(t, len(compressed), len(data))
			}

			out, err := Decompress(compressed, typ)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestStreaming(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, TypeZstd)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte("chunk"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := NewReader(&buf, TypeZstd)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("chunk"), 10), out)
}

func TestUnknownType(t *testing.T) {
	_, err := NewWriter(io.Discard, Type(9))
	assert.Error(t, err)
	_, err = NewReader(bytes.NewReader(nil), Type(9))
	assert.Error(t, err)
	assert.Equal(t, "unknown(9)", Type(9).String())
}

func TestDecompress_Corrupt(t *testing.T) {
	_, err := Decompress([]byte("not zstd at all"), TypeZstd)
	assert.Error(t, err)
}
