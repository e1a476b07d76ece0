package sql

import (
	"fmt"
	"strconv"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/subscription"
)

// Compile resolves a ParsedQuery's WHERE clause against rowType (the
// target table's declared Product row type), producing the
// subscription.Predicate tree the engine evaluates. Compile is a no-op for
// `SELECT * FROM *`, which carries no rowType to resolve against.
func Compile(q ParsedQuery, rowType bsatn.AlgebraicType) (subscription.Predicate, error) {
	if q.Where == nil {
		return subscription.AllRows{}, nil
	}
	return compileExpr(q.Where, rowType)
}

func compileExpr(e expr, rowType bsatn.AlgebraicType) (subscription.Predicate, error) {
	switch v := e.(type) {
	case andExpr:
		left, err := compileExpr(v.left, rowType)
		if err != nil {
			return nil, err
		}
		right, err := compileExpr(v.right, rowType)
		if err != nil {
			return nil, err
		}
		return subscription.And{Left: left, Right: right}, nil
	case orExpr:
		left, err := compileExpr(v.left, rowType)
		if err != nil {
			return nil, err
		}
		right, err := compileExpr(v.right, rowType)
		if err != nil {
			return nil, err
		}
		return subscription.Or{Left: left, Right: right}, nil
	case compareExpr:
		return compileCompare(v, rowType)
	default:
		return nil, fmt.Errorf("sql: unrecognized expression node")
	}
}

func compileCompare(c compareExpr, rowType bsatn.AlgebraicType) (subscription.Predicate, error) {
	idx := -1
	var colType bsatn.AlgebraicType
	for i, f := range rowType.Elements {
		if f.Name == c.col.name {
			idx = i
			colType = f.Type
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("sql: unknown column %q", c.col.name)
	}

	lit, err := literalValue(c.value, colType)
	if err != nil {
		return nil, err
	}

	op, err := compareOp(c.op)
	if err != nil {
		return nil, err
	}
	return subscription.ColumnCompare{ColumnIndex: idx, Op: op, Literal: lit}, nil
}

func compareOp(k tokenKind) (subscription.CompareOp, error) {
	switch k {
	case tokEq:
		return subscription.OpEq, nil
	case tokNe:
		return subscription.OpNe, nil
	case tokLt:
		return subscription.OpLt, nil
	case tokLe:
		return subscription.OpLe, nil
	case tokGt:
		return subscription.OpGt, nil
	case tokGe:
		return subscription.OpGe, nil
	default:
		return 0, fmt.Errorf("sql: unknown comparison operator")
	}
}

// literalValue converts a parsed literal into an AlgebraicValue typed to
// match colType, the same widening bsatn.Encode expects of any value
// constructed outside the wire decoder.
func literalValue(lit literalExpr, colType bsatn.AlgebraicType) (bsatn.AlgebraicValue, error) {
	switch {
	case lit.str != nil:
		if colType.Kind != bsatn.KindString {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: string literal compared against non-string column")
		}
		return bsatn.StringValue(*lit.str), nil
	case lit.boolean != nil:
		if colType.Kind != bsatn.KindBool {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: boolean literal compared against non-bool column")
		}
		return bsatn.BoolValue(*lit.boolean), nil
	case lit.num != nil:
		return numericLiteralValue(*lit.num, colType)
	default:
		return bsatn.AlgebraicValue{}, fmt.Errorf("sql: empty literal")
	}
}

func numericLiteralValue(text string, colType bsatn.AlgebraicType) (bsatn.AlgebraicValue, error) {
	switch colType.Kind {
	case bsatn.KindI8, bsatn.KindI16, bsatn.KindI32, bsatn.KindI64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: malformed integer literal %q: %w", text, err)
		}
		return bsatn.AlgebraicValue{Kind: colType.Kind, I64: n}, nil
	case bsatn.KindU8, bsatn.KindU16, bsatn.KindU32, bsatn.KindU64:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: malformed unsigned integer literal %q: %w", text, err)
		}
		return bsatn.AlgebraicValue{Kind: colType.Kind, U64: n}, nil
	case bsatn.KindF32:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: malformed float literal %q: %w", text, err)
		}
		return bsatn.AlgebraicValue{Kind: bsatn.KindF32, F32: float32(f)}, nil
	case bsatn.KindF64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return bsatn.AlgebraicValue{}, fmt.Errorf("sql: malformed float literal %q: %w", text, err)
		}
		return bsatn.AlgebraicValue{Kind: bsatn.KindF64, F64: f}, nil
	default:
		return bsatn.AlgebraicValue{}, fmt.Errorf("sql: numeric literal compared against non-numeric column")
	}
}
