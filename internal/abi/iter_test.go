package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIterRegistryAdvancesThenExhausts(t *testing.T) {
	reg := newIterRegistry()
	h := reg.Start([][]byte{{1}, {2}, {3}})

	row, ok := reg.Next(h)
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, row)

	row, ok = reg.Next(h)
	assert.True(t, ok)
	assert.Equal(t, []byte{2}, row)

	row, ok = reg.Next(h)
	assert.True(t, ok)
	assert.Equal(t, []byte{3}, row)

	_, ok = reg.Next(h)
	assert.False(t, ok, "iterator must report exhaustion after its last row")
}

func TestIterRegistryUnknownHandleIsExhausted(t *testing.T) {
	reg := newIterRegistry()
	_, ok := reg.Next(999)
	assert.False(t, ok)
}

func TestIterRegistryCloseReleasesHandle(t *testing.T) {
	reg := newIterRegistry()
	h := reg.Start([][]byte{{1}})
	reg.Close(h)
	_, ok := reg.Next(h)
	assert.False(t, ok)
}
