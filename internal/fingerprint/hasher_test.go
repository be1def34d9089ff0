package fingerprint

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{
			name:    "known content",
			content: []byte("HELLO-PDF"),
			want:    "e9d69d86804ba990d00eab9154997719ca7a6572755c4814d5f5d8511655eeba",
		},
		{
			name:    "empty content",
			content: nil,
			want:    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:    "spans several chunks",
			content: make([]byte, 3*ChunkSize+1234),
			want:    Bytes(make([]byte, 3*ChunkSize+1234)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reader(bytes.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, `^[0-9a-f]{64}$`, got)
		})
	}
}

// chunkRecorder records the largest read request it sees.
type chunkRecorder struct {
	r       io.Reader
	maxRead int
}

func (c *chunkRecorder) Read(p []byte) (int, error) {
	if len(p) > c.maxRead {
		c.maxRead = len(p)
	}
	return c.r.Read(p)
}

func TestReader_BoundedChunks(t *testing.T) {
	rec := &chunkRecorder{r: bytes.NewReader(make([]byte, 1<<20))}

	_, err := Reader(rec)
	require.NoError(t, err)
	assert.Equal(t, ChunkSize, rec.maxRead)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReader_Error(t *testing.T) {
	_, err := Reader(failingReader{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "renamed-copy.pdf")
	require.NoError(t, os.WriteFile(a, []byte("HELLO-PDF"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("HELLO-PDF"), 0644))

	fa, err := File(a)
	require.NoError(t, err)
	fb, err := File(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "fingerprint must not depend on the filename")
	assert.Equal(t, Bytes([]byte("HELLO-PDF")), fa)

	_, err = File(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}
