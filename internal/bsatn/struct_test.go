package bsatn

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetRow struct {
	ID    uint64
	Owner [32]byte
	Color string
	Tags  []string
	skip  int //nolint:unused
}

func TestEncodeStructDecodeStructRoundTrip(t *testing.T) {
	in := widgetRow{ID: 7, Color: "red", Tags: []string{"a", "b"}}
	in.Owner[0] = 0xFF

	b, at, err := EncodeStruct(in)
	require.NoError(t, err)
	assert.Equal(t, KindProduct, at.Kind)

	var out widgetRow
	require.NoError(t, DecodeStruct(b, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Owner, out.Owner)
	assert.Equal(t, in.Color, out.Color)
	assert.Equal(t, in.Tags, out.Tags)
}

type taggedRow struct {
	Keep   uint32
	Hidden string `bsatn:"-"`
}

func TestSkippedFieldExcludedFromType(t *testing.T) {
	at, err := TypeOf(reflect.TypeOf(taggedRow{}))
	require.NoError(t, err)
	require.Len(t, at.Elements, 1)
	assert.Equal(t, "Keep", at.Elements[0].Name)
}
