package bsatn

import (
	"fmt"
	"reflect"
	"sort"
)

// TypeOf derives the AlgebraicType for a Go struct type, the way a table's
// row schema is derived from its declared row struct. Fields are taken in
// declaration order (Product field order is significant, spec.md §4.1);
// a `bsatn:"-"` tag excludes a field, and `bsatn:"name"` overrides the wire
// field name used only for documentation/SATN rendering — BSATN itself
// carries no field names, just positions.
func TypeOf(goType reflect.Type) (AlgebraicType, error) {
	for goType.Kind() == reflect.Ptr {
		goType = goType.Elem()
	}
	switch goType.Kind() {
	case reflect.Bool:
		return Bool(), nil
	case reflect.Int8:
		return I8(), nil
	case reflect.Uint8:
		return U8(), nil
	case reflect.Int16:
		return I16(), nil
	case reflect.Uint16:
		return U16(), nil
	case reflect.Int32:
		return I32(), nil
	case reflect.Uint32:
		return U32(), nil
	case reflect.Int, reflect.Int64:
		return I64(), nil
	case reflect.Uint, reflect.Uint64:
		return U64(), nil
	case reflect.Float32:
		return F32(), nil
	case reflect.Float64:
		return F64(), nil
	case reflect.String:
		return String(), nil
	case reflect.Slice, reflect.Array:
		if goType.Elem().Kind() == reflect.Uint8 {
			return Array(U8()), nil
		}
		elemType, err := TypeOf(goType.Elem())
		if err != nil {
			return AlgebraicType{}, err
		}
		return Array(elemType), nil
	case reflect.Map:
		keyType, err := TypeOf(goType.Key())
		if err != nil {
			return AlgebraicType{}, err
		}
		valType, err := TypeOf(goType.Elem())
		if err != nil {
			return AlgebraicType{}, err
		}
		return Map(keyType, valType), nil
	case reflect.Struct:
		fields := make([]NamedType, 0, goType.NumField())
		for i := 0; i < goType.NumField(); i++ {
			sf := goType.Field(i)
			if sf.PkgPath != "" {
				continue // unexported
			}
			name, skip := fieldName(sf)
			if skip {
				continue
			}
			ft, err := TypeOf(sf.Type)
			if err != nil {
				return AlgebraicType{}, fmt.Errorf("bsatn: field %s: %w", sf.Name, err)
			}
			fields = append(fields, NamedType{Name: name, Type: ft})
		}
		return Product(fields...), nil
	default:
		return AlgebraicType{}, fmt.Errorf("bsatn: unsupported Go kind %s for %s", goType.Kind(), goType)
	}
}

func fieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("bsatn")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		return tag, false
	}
	return sf.Name, false
}

// ValueOf converts a Go value into its AlgebraicValue, using the same
// field-order rules as TypeOf.
func ValueOf(v reflect.Value) (AlgebraicValue, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return AlgebraicValue{}, fmt.Errorf("bsatn: ValueOf: nil pointer")
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Bool:
		return BoolValue(v.Bool()), nil
	case reflect.Int8:
		return I8Value(int8(v.Int())), nil
	case reflect.Uint8:
		return U8Value(uint8(v.Uint())), nil
	case reflect.Int16:
		return I16Value(int16(v.Int())), nil
	case reflect.Uint16:
		return U16Value(uint16(v.Uint())), nil
	case reflect.Int32:
		return I32Value(int32(v.Int())), nil
	case reflect.Uint32:
		return U32Value(uint32(v.Uint())), nil
	case reflect.Int, reflect.Int64:
		return I64Value(v.Int()), nil
	case reflect.Uint, reflect.Uint64:
		return U64Value(v.Uint()), nil
	case reflect.Float32:
		return F32Value(float32(v.Float())), nil
	case reflect.Float64:
		return F64Value(v.Float()), nil
	case reflect.String:
		return StringValue(v.String()), nil
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			elems := make([]AlgebraicValue, len(b))
			for i, bb := range b {
				elems[i] = U8Value(bb)
			}
			return ArrayValue(elems...), nil
		}
		elems := make([]AlgebraicValue, v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := ValueOf(v.Index(i))
			if err != nil {
				return AlgebraicValue{}, err
			}
			elems[i] = ev
		}
		return ArrayValue(elems...), nil
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface()) })
		entries := make([]MapEntry, 0, len(keys))
		for _, k := range keys {
			kv, err := ValueOf(k)
			if err != nil {
				return AlgebraicValue{}, err
			}
			vv, err := ValueOf(v.MapIndex(k))
			if err != nil {
				return AlgebraicValue{}, err
			}
			entries = append(entries, MapEntry{Key: kv, Val: vv})
		}
		return MapValue(entries...), nil
	case reflect.Struct:
		t := v.Type()
		fields := make([]AlgebraicValue, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" {
				continue
			}
			if _, skip := fieldName(sf); skip {
				continue
			}
			fv, err := ValueOf(v.Field(i))
			if err != nil {
				return AlgebraicValue{}, err
			}
			fields = append(fields, fv)
		}
		return ProductValue(fields...), nil
	default:
		return AlgebraicValue{}, fmt.Errorf("bsatn: unsupported Go kind %s", v.Kind())
	}
}

// Into populates a Go value (addressable, obtained from a pointer) from an
// AlgebraicValue, the inverse of ValueOf.
func Into(v AlgebraicValue, target reflect.Value) error {
	for target.Kind() == reflect.Ptr {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}
	switch target.Kind() {
	case reflect.Bool:
		target.SetBool(v.Bool)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int, reflect.Int64:
		target.SetInt(v.I64)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint, reflect.Uint64:
		target.SetUint(v.U64)
	case reflect.Float32:
		target.SetFloat(float64(v.F32))
	case reflect.Float64:
		target.SetFloat(v.F64)
	case reflect.String:
		target.SetString(v.Str)
	case reflect.Slice:
		if target.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, len(v.Array))
			for i, e := range v.Array {
				b[i] = byte(e.U64)
			}
			target.SetBytes(b)
			return nil
		}
		s := reflect.MakeSlice(target.Type(), len(v.Array), len(v.Array))
		for i, e := range v.Array {
			if err := Into(e, s.Index(i)); err != nil {
				return err
			}
		}
		target.Set(s)
	case reflect.Array:
		if len(v.Array) != target.Len() {
			return typeMismatch("array of %d elements does not fit Go array of length %d", len(v.Array), target.Len())
		}
		for i, e := range v.Array {
			if err := Into(e, target.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		m := reflect.MakeMapWithSize(target.Type(), len(v.Pairs))
		for _, e := range v.Pairs {
			k := reflect.New(target.Type().Key()).Elem()
			if err := Into(e.Key, k); err != nil {
				return err
			}
			val := reflect.New(target.Type().Elem()).Elem()
			if err := Into(e.Val, val); err != nil {
				return err
			}
			m.SetMapIndex(k, val)
		}
		target.Set(m)
	case reflect.Struct:
		t := target.Type()
		idx := 0
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" {
				continue
			}
			if _, skip := fieldName(sf); skip {
				continue
			}
			if idx >= len(v.Elements) {
				return typeMismatch("struct %s has more fields than decoded product", t)
			}
			if err := Into(v.Elements[idx], target.Field(i)); err != nil {
				return err
			}
			idx++
		}
	default:
		return fmt.Errorf("bsatn: unsupported Go kind %s", target.Kind())
	}
	return nil
}

// EncodeStruct is sugar over TypeOf + ValueOf + Encode for a Go struct row.
func EncodeStruct(row interface{}) ([]byte, AlgebraicType, error) {
	rv := reflect.ValueOf(row)
	rt := rv.Type()
	at, err := TypeOf(rt)
	if err != nil {
		return nil, AlgebraicType{}, err
	}
	val, err := ValueOf(rv)
	if err != nil {
		return nil, AlgebraicType{}, err
	}
	b, err := Encode(val, at)
	return b, at, err
}

// DecodeStruct is sugar over Decode + Into for a pointer to a Go struct row.
func DecodeStruct(b []byte, out interface{}) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bsatn: DecodeStruct target must be a non-nil pointer")
	}
	at, err := TypeOf(rv.Type())
	if err != nil {
		return err
	}
	val, _, err := Decode(b, at)
	if err != nil {
		return err
	}
	return Into(val, rv.Elem())
}
