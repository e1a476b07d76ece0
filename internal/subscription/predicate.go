// Package subscription implements the live-query engine of spec.md §4.5:
// per-client subscription registries, applied-snapshot handshakes, and
// incremental per-commit deltas. It generalizes the teacher's
// pkg/spacetimedb/realtime (a single-process, generics-based reactive
// LiveQuery/EventBus pair built for one in-memory Go slice per table) into
// a server-side engine that diffs storage.Database commits against many
// clients' independently registered queries instead of fanning one
// process-local event out to in-process callbacks.
package subscription

import "github.com/clockworklabs/stdb-core/internal/bsatn"

// Predicate is one parsed WHERE clause, evaluated against a row of a known
// table. internal/sql builds these from the §6.4 grammar; this package
// only needs to evaluate, not parse, them.
type Predicate interface {
	Eval(row bsatn.AlgebraicValue) bool
}

// AllRows matches every row, used for `SELECT * FROM table` with no WHERE.
type AllRows struct{}

func (AllRows) Eval(bsatn.AlgebraicValue) bool { return true }

// CompareOp is a WHERE-clause comparison operator.
type CompareOp uint8

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// ColumnCompare compares one column of the row against a literal value.
type ColumnCompare struct {
	ColumnIndex int
	Op          CompareOp
	Literal     bsatn.AlgebraicValue
}

func (p ColumnCompare) Eval(row bsatn.AlgebraicValue) bool {
	if p.ColumnIndex < 0 || p.ColumnIndex >= len(row.Elements) {
		return false
	}
	cmp, ok := compare(row.Elements[p.ColumnIndex], p.Literal)
	if !ok {
		return p.Op == OpEq && false
	}
	switch p.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// And requires both sub-predicates to match.
type And struct{ Left, Right Predicate }

func (p And) Eval(row bsatn.AlgebraicValue) bool { return p.Left.Eval(row) && p.Right.Eval(row) }

// Or requires either sub-predicate to match.
type Or struct{ Left, Right Predicate }

func (p Or) Eval(row bsatn.AlgebraicValue) bool { return p.Left.Eval(row) || p.Right.Eval(row) }

// compare orders two values of the same kind; ok is false for
// kinds §6.4's grammar never produces as WHERE-clause literals (arrays,
// maps, products, sums), which a predicate built from that grammar will
// never construct in the first place.
func compare(a, b bsatn.AlgebraicValue) (int, bool) {
	if a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case bsatn.KindBool:
		if a.Bool == b.Bool {
			return 0, true
		}
		if !a.Bool {
			return -1, true
		}
		return 1, true
	case bsatn.KindI8, bsatn.KindI16, bsatn.KindI32, bsatn.KindI64:
		return compareInt64(a.I64, b.I64), true
	case bsatn.KindU8, bsatn.KindU16, bsatn.KindU32, bsatn.KindU64:
		return compareUint64(a.U64, b.U64), true
	case bsatn.KindF32:
		return compareFloat64(float64(a.F32), float64(b.F32)), true
	case bsatn.KindF64:
		return compareFloat64(a.F64, b.F64), true
	case bsatn.KindString:
		switch {
		case a.Str < b.Str:
			return -1, true
		case a.Str > b.Str:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
