package session

import (
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTripNone(t *testing.T) {
	frame, err := compressFrame(CompressionNone, []byte("hello"))
	require.NoError(t, err)
	out, err := decompressFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestCompressDecompressRoundTripGzip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	frame, err := compressFrame(CompressionGzip, payload)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionGzip), frame[0])
	out, err := decompressFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompressFrameAcceptsBrotli(t *testing.T) {
	payload := []byte("brotli payload")
	var buf []byte
	w := brotli.NewWriter(writerTo(&buf))
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	frame := append([]byte{byte(CompressionBrotli)}, buf...)
	out, err := decompressFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompressFrameRejectsEmpty(t *testing.T) {
	_, err := decompressFrame(nil)
	assert.Error(t, err)
}

// writerTo adapts a *[]byte into an io.Writer for the brotli encoder used
// only by the test above.
type byteSliceWriter struct{ buf *[]byte }

func (w byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func writerTo(buf *[]byte) byteSliceWriter { return byteSliceWriter{buf: buf} }
