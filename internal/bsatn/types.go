// Package bsatn implements the algebraic type language and its binary
// encoding (BSATN) that spec.md §4.1 defines as the lingua franca between
// the database, the module host, and clients: primitives, Array(T),
// Map(K,V), Product (records) and Sum (tagged unions), encoded
// little-endian and positionally — the encoding carries no self-describing
// tags for primitives or product fields; only a Sum's variant index is
// written on the wire.
package bsatn

import "fmt"

// Kind discriminates an AlgebraicType.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindF32
	KindF64
	KindString
	KindArray
	KindMap
	KindProduct
	KindSum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindI8:
		return "I8"
	case KindU8:
		return "U8"
	case KindI16:
		return "I16"
	case KindU16:
		return "U16"
	case KindI32:
		return "I32"
	case KindU32:
		return "U32"
	case KindI64:
		return "I64"
	case KindU64:
		return "U64"
	case KindI128:
		return "I128"
	case KindU128:
		return "U128"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindProduct:
		return "Product"
	case KindSum:
		return "Sum"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// AlgebraicType is the type language of spec.md §3/§4.1. Two types are
// equal iff their full structural description matches (Go struct equality
// on the comparable fields handles this; Product/Sum element slices are
// compared with Equal).
type AlgebraicType struct {
	Kind Kind

	// Array/Map element types.
	Elem AlgebraicType   // Array(Elem)
	Key  *AlgebraicType  // Map(Key, Elem)

	// Product/Sum.
	Elements []NamedType // Product fields or Sum variants, in declared order
}

// NamedType is a (name, type) pair used for both Product fields and Sum
// variants.
type NamedType struct {
	Name string
	Type AlgebraicType
}

func Bool() AlgebraicType   { return AlgebraicType{Kind: KindBool} }
func I8() AlgebraicType     { return AlgebraicType{Kind: KindI8} }
func U8() AlgebraicType     { return AlgebraicType{Kind: KindU8} }
func I16() AlgebraicType    { return AlgebraicType{Kind: KindI16} }
func U16() AlgebraicType    { return AlgebraicType{Kind: KindU16} }
func I32() AlgebraicType    { return AlgebraicType{Kind: KindI32} }
func U32() AlgebraicType    { return AlgebraicType{Kind: KindU32} }
func I64() AlgebraicType    { return AlgebraicType{Kind: KindI64} }
func U64() AlgebraicType    { return AlgebraicType{Kind: KindU64} }
func I128() AlgebraicType   { return AlgebraicType{Kind: KindI128} }
func U128() AlgebraicType   { return AlgebraicType{Kind: KindU128} }
func F32() AlgebraicType    { return AlgebraicType{Kind: KindF32} }
func F64() AlgebraicType    { return AlgebraicType{Kind: KindF64} }
func String() AlgebraicType { return AlgebraicType{Kind: KindString} }

func Array(elem AlgebraicType) AlgebraicType {
	return AlgebraicType{Kind: KindArray, Elem: elem}
}

func Map(key, val AlgebraicType) AlgebraicType {
	k := key
	return AlgebraicType{Kind: KindMap, Key: &k, Elem: val}
}

func Product(fields ...NamedType) AlgebraicType {
	return AlgebraicType{Kind: KindProduct, Elements: fields}
}

func Sum(variants ...NamedType) AlgebraicType {
	return AlgebraicType{Kind: KindSum, Elements: variants}
}

// Option builds the Sum(some(T)|none()) convention spec.md §3 names.
func Option(t AlgebraicType) AlgebraicType {
	return Sum(NamedType{"some", t}, NamedType{"none", Product()})
}

// IdentityType is Identity modeled as a Product with one field holding its
// 256 bits. There is no U256 kind, so the field is an Array(U8): under
// BSATN it is written as a u32 length prefix followed by the 32 bytes, not
// as a fixed-width 32-byte number.
func IdentityType() AlgebraicType {
	return Product(NamedType{"__identity_bytes__", Array(U8())})
}

// ConnectionIdType is ConnectionId modeled as a Product with one U128
// field.
func ConnectionIdType() AlgebraicType {
	return Product(NamedType{"__connection_id_bytes__", U128()})
}

// Equal reports whether two AlgebraicTypes have the same structural
// description (spec.md §3: "two types are equal iff their full structural
// description matches").
func (t AlgebraicType) Equal(o AlgebraicType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindArray:
		return t.Elem.Equal(o.Elem)
	case KindMap:
		if t.Key == nil || o.Key == nil {
			return t.Key == o.Key
		}
		return t.Key.Equal(*o.Key) && t.Elem.Equal(o.Elem)
	case KindProduct, KindSum:
		if len(t.Elements) != len(o.Elements) {
			return false
		}
		for i := range t.Elements {
			if t.Elements[i].Name != o.Elements[i].Name {
				return false
			}
			if !t.Elements[i].Type.Equal(o.Elements[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsInteger reports whether the type is one of the fixed-width integer
// kinds, used by the storage engine to validate auto-increment columns
// (spec.md §4.4: "every auto-inc column is a non-negative integer type").
func (k Kind) IsInteger() bool {
	switch k {
	case KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64, KindI128, KindU128:
		return true
	default:
		return false
	}
}

func (k Kind) IsUnsigned() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindU128:
		return true
	default:
		return false
	}
}
