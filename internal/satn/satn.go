// Package satn renders AlgebraicValues as the textual form spec.md §4.1
// calls SATN: human-readable display and the literal syntax accepted by
// the SQL surface (§6.4). It mirrors bsatn's value tree but never touches
// bytes.
package satn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// Render produces the textual form of v under its AlgebraicType.
func Render(v bsatn.AlgebraicValue, t bsatn.AlgebraicType) string {
	switch t.Kind {
	case bsatn.KindBool:
		return strconv.FormatBool(v.Bool)
	case bsatn.KindI8, bsatn.KindI16, bsatn.KindI32, bsatn.KindI64:
		return strconv.FormatInt(v.I64, 10)
	case bsatn.KindU8, bsatn.KindU16, bsatn.KindU32, bsatn.KindU64:
		return strconv.FormatUint(v.U64, 10)
	case bsatn.KindI128:
		return fmt.Sprintf("0x%x", v.I128)
	case bsatn.KindU128:
		return fmt.Sprintf("0x%x", v.U128)
	case bsatn.KindF32:
		return strconv.FormatFloat(float64(v.F32), 'g', -1, 32)
	case bsatn.KindF64:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case bsatn.KindString:
		return quoteString(v.Str)
	case bsatn.KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = Render(e, t.Elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case bsatn.KindMap:
		parts := make([]string, len(v.Pairs))
		for i, e := range v.Pairs {
			parts[i] = Render(e.Key, *t.Key) + ": " + Render(e.Val, t.Elem)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case bsatn.KindProduct:
		parts := make([]string, len(t.Elements))
		for i, f := range t.Elements {
			if i < len(v.Elements) {
				parts[i] = f.Name + ": " + Render(v.Elements[i], f.Type)
			}
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case bsatn.KindSum:
		if int(v.Tag) >= len(t.Elements) {
			return fmt.Sprintf("<invalid-variant-%d>", v.Tag)
		}
		variant := t.Elements[v.Tag]
		if v.Payload == nil {
			return variant.Name + "()"
		}
		return variant.Name + "(" + Render(*v.Payload, variant.Type) + ")"
	default:
		return "<?>"
	}
}

// quoteString renders a string literal with '' escaping, the form §6.4
// accepts back as input.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdentifier renders an identifier, quoting with "" escaping whenever
// it is not a simple identifier (§6.4: "Identifiers are case-sensitive;
// non-simple identifiers quoted \"...\" with \"\" escape").
func QuoteIdentifier(name string) string {
	if isSimpleIdentifier(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSimpleIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isLetter {
			return false
		}
		if i > 0 && !isLetter && !isDigit {
			return false
		}
	}
	return true
}
