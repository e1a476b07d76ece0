package bsatn

// AlgebraicValue is a tagged union mirroring AlgebraicType: exactly one
// field is meaningful, selected by Kind.
type AlgebraicValue struct {
	Kind Kind

	Bool bool
	I64  int64  // I8/I16/I32/I64 widened
	U64  uint64 // U8/U16/U32/U64 widened
	I128 [16]byte
	U128 [16]byte
	F32  float32
	F64  float64
	Str  string

	Array []AlgebraicValue
	Pairs []MapEntry // Map, in encoder's insertion order (spec.md §4.1: "not canonical unless the sender sorts it")

	Elements []AlgebraicValue // Product fields, in declared order

	Tag     uint8          // Sum variant index
	Payload *AlgebraicValue // Sum payload
}

type MapEntry struct {
	Key AlgebraicValue
	Val AlgebraicValue
}

func BoolValue(b bool) AlgebraicValue    { return AlgebraicValue{Kind: KindBool, Bool: b} }
func I8Value(v int8) AlgebraicValue      { return AlgebraicValue{Kind: KindI8, I64: int64(v)} }
func U8Value(v uint8) AlgebraicValue     { return AlgebraicValue{Kind: KindU8, U64: uint64(v)} }
func I16Value(v int16) AlgebraicValue    { return AlgebraicValue{Kind: KindI16, I64: int64(v)} }
func U16Value(v uint16) AlgebraicValue   { return AlgebraicValue{Kind: KindU16, U64: uint64(v)} }
func I32Value(v int32) AlgebraicValue    { return AlgebraicValue{Kind: KindI32, I64: int64(v)} }
func U32Value(v uint32) AlgebraicValue   { return AlgebraicValue{Kind: KindU32, U64: uint64(v)} }
func I64Value(v int64) AlgebraicValue    { return AlgebraicValue{Kind: KindI64, I64: v} }
func U64Value(v uint64) AlgebraicValue   { return AlgebraicValue{Kind: KindU64, U64: v} }
func F32Value(v float32) AlgebraicValue  { return AlgebraicValue{Kind: KindF32, F32: v} }
func F64Value(v float64) AlgebraicValue  { return AlgebraicValue{Kind: KindF64, F64: v} }
func StringValue(s string) AlgebraicValue { return AlgebraicValue{Kind: KindString, Str: s} }

func ArrayValue(elems ...AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindArray, Array: elems}
}

func MapValue(entries ...MapEntry) AlgebraicValue {
	return AlgebraicValue{Kind: KindMap, Pairs: entries}
}

func ProductValue(fields ...AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindProduct, Elements: fields}
}

func SumValue(tag uint8, payload *AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindSum, Tag: tag, Payload: payload}
}

// Equal performs a structural, type-agnostic comparison. Callers that hold
// the AlgebraicType should prefer comparing under that type; Equal is used
// by the storage engine to compare already-typed column values of a known
// shared type.
func (v AlgebraicValue) Equal(o AlgebraicValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindI8, KindI16, KindI32, KindI64:
		return v.I64 == o.I64
	case KindU8, KindU16, KindU32, KindU64:
		return v.U64 == o.U64
	case KindI128, KindU128:
		return v.I128 == o.I128 && v.U128 == o.U128
	case KindF32:
		return v.F32 == o.F32
	case KindF64:
		return v.F64 == o.F64
	case KindString:
		return v.Str == o.Str
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Pairs) != len(o.Pairs) {
			return false
		}
		for i := range v.Pairs {
			if !v.Pairs[i].Key.Equal(o.Pairs[i].Key) || !v.Pairs[i].Val.Equal(o.Pairs[i].Val) {
				return false
			}
		}
		return true
	case KindProduct:
		if len(v.Elements) != len(o.Elements) {
			return false
		}
		for i := range v.Elements {
			if !v.Elements[i].Equal(o.Elements[i]) {
				return false
			}
		}
		return true
	case KindSum:
		if v.Tag != o.Tag {
			return false
		}
		if (v.Payload == nil) != (o.Payload == nil) {
			return false
		}
		if v.Payload == nil {
			return true
		}
		return v.Payload.Equal(*o.Payload)
	default:
		return false
	}
}
