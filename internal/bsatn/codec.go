package bsatn

import (
	"math"
)

// MaxLen bounds Array/Map/String lengths and String byte counts decoded off
// the wire; a declared length above this is always treated as an overflow
// (spec.md §4.1: "Decoding fails with TypeMismatch on any length overflow").
const MaxLen = 1 << 28

// Encode serializes v, which must conform to t, into its BSATN bytes.
func Encode(v AlgebraicValue, t AlgebraicType) ([]byte, error) {
	w := &writer{}
	if err := encodeInto(w, v, t); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeInto(w *writer, v AlgebraicValue, t AlgebraicType) error {
	if v.Kind != t.Kind {
		return typeMismatch("value kind %s does not match type kind %s", v.Kind, t.Kind)
	}
	switch t.Kind {
	case KindBool:
		if v.Bool {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case KindI8, KindU8:
		w.u8(uint8(combine(v)))
	case KindI16, KindU16:
		w.u16(uint16(combine(v)))
	case KindI32, KindU32:
		w.u32(uint32(combine(v)))
	case KindI64, KindU64:
		w.u64(combine(v))
	case KindI128, KindU128:
		b := v.U128
		if t.Kind == KindI128 {
			b = v.I128
		}
		w.bytes(b[:])
	case KindF32:
		w.u32(math.Float32bits(v.F32))
	case KindF64:
		w.u64(math.Float64bits(v.F64))
	case KindString:
		return encodeString(w, v.Str)
	case KindArray:
		return encodeArray(w, v, t)
	case KindMap:
		return encodeMap(w, v, t)
	case KindProduct:
		return encodeProduct(w, v, t)
	case KindSum:
		return encodeSum(w, v, t)
	default:
		return typeMismatch("unknown type kind %d", t.Kind)
	}
	return nil
}

// combine resolves the widened I64/U64 fields a value may carry (encodeInto
// is called with a value already produced by one of the IxxValue/UxxValue
// constructors, so exactly one of I64/U64 is meaningful per Kind).
func combine(v AlgebraicValue) uint64 {
	if v.Kind == KindI8 || v.Kind == KindI16 || v.Kind == KindI32 || v.Kind == KindI64 {
		return uint64(v.I64)
	}
	return v.U64
}

func encodeString(w *writer, s string) error {
	if len(s) > MaxLen {
		return typeMismatch("string too long: %d bytes", len(s))
	}
	w.u32(uint32(len(s)))
	w.bytes([]byte(s))
	return nil
}

func encodeArray(w *writer, v AlgebraicValue, t AlgebraicType) error {
	if len(v.Array) > MaxLen {
		return typeMismatch("array too long: %d elements", len(v.Array))
	}
	w.u32(uint32(len(v.Array)))
	for _, elem := range v.Array {
		if err := encodeInto(w, elem, t.Elem); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(w *writer, v AlgebraicValue, t AlgebraicType) error {
	if t.Key == nil {
		return typeMismatch("map type missing key type")
	}
	if len(v.Pairs) > MaxLen {
		return typeMismatch("map too long: %d entries", len(v.Pairs))
	}
	w.u32(uint32(len(v.Pairs)))
	for _, e := range v.Pairs {
		if err := encodeInto(w, e.Key, *t.Key); err != nil {
			return err
		}
		if err := encodeInto(w, e.Val, t.Elem); err != nil {
			return err
		}
	}
	return nil
}

func encodeProduct(w *writer, v AlgebraicValue, t AlgebraicType) error {
	if len(v.Elements) != len(t.Elements) {
		return typeMismatch("product field count %d does not match type field count %d", len(v.Elements), len(t.Elements))
	}
	for i, field := range t.Elements {
		if err := encodeInto(w, v.Elements[i], field.Type); err != nil {
			return err
		}
	}
	return nil
}

func encodeSum(w *writer, v AlgebraicValue, t AlgebraicType) error {
	if int(v.Tag) >= len(t.Elements) {
		return typeMismatch("sum variant tag %d out of range (have %d variants)", v.Tag, len(t.Elements))
	}
	w.u8(v.Tag)
	variantType := t.Elements[v.Tag].Type
	if v.Payload == nil {
		return encodeInto(w, AlgebraicValue{Kind: variantType.Kind}, variantType)
	}
	return encodeInto(w, *v.Payload, variantType)
}

// Decode parses BSATN bytes conforming to t, returning the decoded value
// and the number of bytes consumed. No partial value is ever returned on
// error (spec.md §4.1).
func Decode(b []byte, t AlgebraicType) (AlgebraicValue, int, error) {
	r := &reader{buf: b}
	v, err := decodeFrom(r, t)
	if err != nil {
		return AlgebraicValue{}, 0, err
	}
	return v, r.pos, nil
}

func decodeFrom(r *reader, t AlgebraicType) (AlgebraicValue, error) {
	switch t.Kind {
	case KindBool:
		b, err := r.u8()
		if err != nil {
			return AlgebraicValue{}, err
		}
		if b != 0 && b != 1 {
			return AlgebraicValue{}, typeMismatch("invalid bool byte 0x%x", b)
		}
		return BoolValue(b == 1), nil
	case KindI8:
		b, err := r.u8()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return I8Value(int8(b)), nil
	case KindU8:
		b, err := r.u8()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return U8Value(b), nil
	case KindI16:
		u, err := r.u16()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return I16Value(int16(u)), nil
	case KindU16:
		u, err := r.u16()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return U16Value(u), nil
	case KindI32:
		u, err := r.u32()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return I32Value(int32(u)), nil
	case KindU32:
		u, err := r.u32()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return U32Value(u), nil
	case KindI64:
		u, err := r.u64()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return I64Value(int64(u)), nil
	case KindU64:
		u, err := r.u64()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return U64Value(u), nil
	case KindI128, KindU128:
		b, err := r.bytes(16)
		if err != nil {
			return AlgebraicValue{}, err
		}
		var arr [16]byte
		copy(arr[:], b)
		if t.Kind == KindI128 {
			return AlgebraicValue{Kind: KindI128, I128: arr}, nil
		}
		return AlgebraicValue{Kind: KindU128, U128: arr}, nil
	case KindF32:
		u, err := r.u32()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return F32Value(math.Float32frombits(u)), nil
	case KindF64:
		u, err := r.u64()
		if err != nil {
			return AlgebraicValue{}, err
		}
		return F64Value(math.Float64frombits(u)), nil
	case KindString:
		return decodeString(r)
	case KindArray:
		return decodeArray(r, t)
	case KindMap:
		return decodeMap(r, t)
	case KindProduct:
		return decodeProduct(r, t)
	case KindSum:
		return decodeSum(r, t)
	default:
		return AlgebraicValue{}, typeMismatch("unknown type kind %d", t.Kind)
	}
}

func decodeString(r *reader) (AlgebraicValue, error) {
	n, err := r.u32()
	if err != nil {
		return AlgebraicValue{}, err
	}
	if n > MaxLen {
		return AlgebraicValue{}, typeMismatch("string length %d exceeds max", n)
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return AlgebraicValue{}, err
	}
	return StringValue(string(b)), nil
}

func decodeArray(r *reader, t AlgebraicType) (AlgebraicValue, error) {
	n, err := r.u32()
	if err != nil {
		return AlgebraicValue{}, err
	}
	if n > MaxLen {
		return AlgebraicValue{}, typeMismatch("array length %d exceeds max", n)
	}
	out := make([]AlgebraicValue, 0, n)
	for i := uint32(0); i < n; i++ {
		elem, err := decodeFrom(r, t.Elem)
		if err != nil {
			return AlgebraicValue{}, err
		}
		out = append(out, elem)
	}
	return ArrayValue(out...), nil
}

func decodeMap(r *reader, t AlgebraicType) (AlgebraicValue, error) {
	if t.Key == nil {
		return AlgebraicValue{}, typeMismatch("map type missing key type")
	}
	n, err := r.u32()
	if err != nil {
		return AlgebraicValue{}, err
	}
	if n > MaxLen {
		return AlgebraicValue{}, typeMismatch("map length %d exceeds max", n)
	}
	entries := make([]MapEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := decodeFrom(r, *t.Key)
		if err != nil {
			return AlgebraicValue{}, err
		}
		v, err := decodeFrom(r, t.Elem)
		if err != nil {
			return AlgebraicValue{}, err
		}
		entries = append(entries, MapEntry{Key: k, Val: v})
	}
	return MapValue(entries...), nil
}

func decodeProduct(r *reader, t AlgebraicType) (AlgebraicValue, error) {
	fields := make([]AlgebraicValue, 0, len(t.Elements))
	for _, f := range t.Elements {
		v, err := decodeFrom(r, f.Type)
		if err != nil {
			return AlgebraicValue{}, err
		}
		fields = append(fields, v)
	}
	return ProductValue(fields...), nil
}

func decodeSum(r *reader, t AlgebraicType) (AlgebraicValue, error) {
	tag, err := r.u8()
	if err != nil {
		return AlgebraicValue{}, err
	}
	if int(tag) >= len(t.Elements) {
		return AlgebraicValue{}, typeMismatch("sum variant tag %d out of range (have %d variants)", tag, len(t.Elements))
	}
	payload, err := decodeFrom(r, t.Elements[tag].Type)
	if err != nil {
		return AlgebraicValue{}, err
	}
	return SumValue(tag, &payload), nil
}
