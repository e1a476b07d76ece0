package bsatn

// EncodeType serializes an AlgebraicType itself, not a value conforming to
// it. This is the wire format `__describe_module__` uses to ship table row
// types and reducer argument types to the host (spec.md §4.3): every kind
// tag is one byte, followed by whatever the kind needs recursively. Named
// Product/Sum elements carry their field name as a length-prefixed string
// so the host can resolve columns by name.
func EncodeType(t AlgebraicType) []byte {
	w := &writer{}
	encodeTypeInto(w, t)
	return w.Bytes()
}

func encodeTypeInto(w *writer, t AlgebraicType) {
	w.u8(uint8(t.Kind))
	switch t.Kind {
	case KindArray:
		encodeTypeInto(w, t.Elem)
	case KindMap:
		encodeTypeInto(w, *t.Key)
		encodeTypeInto(w, t.Elem)
	case KindProduct, KindSum:
		w.u32(uint32(len(t.Elements)))
		for _, el := range t.Elements {
			encodeString(w, el.Name)
			encodeTypeInto(w, el.Type)
		}
	}
}

// DecodeType is the inverse of EncodeType, returning the type plus the
// number of bytes consumed.
func DecodeType(b []byte) (AlgebraicType, int, error) {
	r := &reader{buf: b}
	t, err := decodeTypeFrom(r)
	if err != nil {
		return AlgebraicType{}, 0, err
	}
	return t, r.pos, nil
}

func decodeTypeFrom(r *reader) (AlgebraicType, error) {
	tag, err := r.u8()
	if err != nil {
		return AlgebraicType{}, err
	}
	k := Kind(tag)
	switch k {
	case KindArray:
		elem, err := decodeTypeFrom(r)
		if err != nil {
			return AlgebraicType{}, err
		}
		return Array(elem), nil
	case KindMap:
		key, err := decodeTypeFrom(r)
		if err != nil {
			return AlgebraicType{}, err
		}
		val, err := decodeTypeFrom(r)
		if err != nil {
			return AlgebraicType{}, err
		}
		return Map(key, val), nil
	case KindProduct, KindSum:
		n, err := r.u32()
		if err != nil {
			return AlgebraicType{}, err
		}
		if n > MaxLen {
			return AlgebraicType{}, typeMismatch("type descriptor element count overflow: %d", n)
		}
		elements := make([]NamedType, n)
		for i := range elements {
			nameVal, err := decodeString(r)
			if err != nil {
				return AlgebraicType{}, err
			}
			fieldType, err := decodeTypeFrom(r)
			if err != nil {
				return AlgebraicType{}, err
			}
			elements[i] = NamedType{Name: nameVal.Str, Type: fieldType}
		}
		return AlgebraicType{Kind: k, Elements: elements}, nil
	case KindBool, KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64,
		KindI128, KindU128, KindF32, KindF64, KindString:
		return AlgebraicType{Kind: k}, nil
	default:
		return AlgebraicType{}, typeMismatch("unknown type descriptor tag %d", tag)
	}
}
