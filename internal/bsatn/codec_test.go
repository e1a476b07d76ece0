package bsatn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v AlgebraicValue, at AlgebraicType) {
	t.Helper()
	b, err := Encode(v, at)
	require.NoError(t, err)
	got, n, err := Decode(b, at)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.True(t, v.Equal(got), "round-trip mismatch: %+v != %+v", v, got)
}

func TestRoundTripPrimitives(t *testing.T) {
	roundTrip(t, BoolValue(true), Bool())
	roundTrip(t, BoolValue(false), Bool())
	roundTrip(t, I8Value(-5), I8())
	roundTrip(t, U8Value(250), U8())
	roundTrip(t, I32Value(-70000), I32())
	roundTrip(t, U64Value(1<<63), U64())
	roundTrip(t, F32Value(3.25), F32())
	roundTrip(t, F64Value(-1.5), F64())
	roundTrip(t, StringValue("hello, 世界"), String())
	roundTrip(t, StringValue(""), String())
}

func TestRoundTripArray(t *testing.T) {
	at := Array(U32())
	v := ArrayValue(U32Value(1), U32Value(2), U32Value(3))
	roundTrip(t, v, at)

	roundTrip(t, ArrayValue(), at)
}

func TestRoundTripMap(t *testing.T) {
	at := Map(String(), U32())
	v := MapValue(
		MapEntry{Key: StringValue("a"), Val: U32Value(1)},
		MapEntry{Key: StringValue("b"), Val: U32Value(2)},
	)
	roundTrip(t, v, at)
}

func TestRoundTripProduct(t *testing.T) {
	at := Product(
		NamedType{Name: "id", Type: U64()},
		NamedType{Name: "name", Type: String()},
	)
	v := ProductValue(U64Value(42), StringValue("widget"))
	roundTrip(t, v, at)
}

func TestRoundTripSumOption(t *testing.T) {
	at := Option(String())
	some := StringValue("present")
	roundTrip(t, SumValue(0, &some), at)
	roundTrip(t, SumValue(1, nil), at)
}

func TestRoundTripNestedProductOfSum(t *testing.T) {
	inner := Option(U32())
	at := Product(NamedType{Name: "maybe", Type: inner})
	payload := U32Value(9)
	v := ProductValue(SumValue(0, &payload))
	roundTrip(t, v, at)
}

func TestDecodeRejectsTruncatedString(t *testing.T) {
	at := String()
	// Declares length 10 but supplies no bytes.
	b := []byte{10, 0, 0, 0}
	_, _, err := Decode(b, at)
	require.Error(t, err)
	var mismatch *ErrTypeMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestDecodeRejectsUnknownSumTag(t *testing.T) {
	at := Sum(NamedType{Name: "a", Type: Product()}, NamedType{Name: "b", Type: Product()})
	b := []byte{7} // tag out of range
	_, _, err := Decode(b, at)
	require.Error(t, err)
}

func TestTypeEqualityIsStructural(t *testing.T) {
	a := Product(NamedType{Name: "x", Type: U32()})
	b := Product(NamedType{Name: "x", Type: U32()})
	c := Product(NamedType{Name: "x", Type: U64()})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
