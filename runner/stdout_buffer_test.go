package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer(t *testing.T) {
	buf := newTailBuffer(8)

	n, err := buf.Write([]byte("abcd"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf.Bytes()))
	assert.False(t, buf.Truncated())

	_, _ = buf.Write([]byte("efghij"))
	assert.Equal(t, "cdefghij", string(buf.Bytes()))
	assert.True(t, buf.Truncated())

	// Bytes returns a copy.
	out := buf.Bytes()
	out[0] = 'X'
	assert.Equal(t, "cdefghij", string(buf.Bytes()))
}

func TestTailBufferDefaultSize(t *testing.T) {
	buf := newTailBuffer(0)
	assert.Equal(t, defaultStdoutTailBytes, buf.maxBytes)
}
