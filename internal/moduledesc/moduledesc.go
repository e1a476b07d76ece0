// Package moduledesc implements the self-description every module emits
// from its __describe_module__ export (spec.md §4.3): tables with their
// constraints, indexes, and scheduling, plus reducers with their argument
// types. It generalizes the teacher's pkg/spacetimedb/schema.TableInfo
// (name/columns/indexes as plain strings and JSON tags) into algebraic
// types shared with internal/storage and internal/bsatn, and adds the
// reducer side the teacher's schema package never covered.
package moduledesc

import (
	"fmt"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// ReducerKind distinguishes ordinary reducers from the lifecycle hooks
// spec.md §4.4 dispatches automatically.
type ReducerKind uint8

const (
	ReducerKindNormal ReducerKind = iota
	ReducerKindInit
	ReducerKindUpdate
	ReducerKindClientConnected
	ReducerKindClientDisconnected
	ReducerKindScheduled
)

func (k ReducerKind) String() string {
	switch k {
	case ReducerKindInit:
		return "init"
	case ReducerKindUpdate:
		return "update"
	case ReducerKindClientConnected:
		return "client_connected"
	case ReducerKindClientDisconnected:
		return "client_disconnected"
	case ReducerKindScheduled:
		return "scheduled"
	default:
		return "reducer"
	}
}

// ReducerDesc describes one module-exported reducer.
type ReducerDesc struct {
	Name string
	Kind ReducerKind
	Args bsatn.AlgebraicType // must be a Product
}

// ColumnDesc mirrors storage.ColumnConstraint but travels over the wire
// rather than living only in the host's in-memory schema cache.
type ColumnDesc struct {
	Name          string
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
}

// IndexDesc names an additional (non-unique) index a table declares.
// internal/storage's B-tree indexes are currently built only for
// PrimaryKey/Unique columns; a declared IndexDesc over any other column is
// honored by range scans falling back to a filtered full scan (see
// storage.IndexScanRange), matching this being advisory rather than a hard
// storage-layer requirement.
type IndexDesc struct {
	Name   string
	Column string
}

// ScheduleDesc names the reducer and column a scheduled table fires
// through.
type ScheduleDesc struct {
	ReducerName    string
	ScheduledAtCol string
}

// TableDesc describes one module-declared table.
type TableDesc struct {
	Name     string
	RowType  bsatn.AlgebraicType // must be a Product
	Columns  []ColumnDesc
	Indexes  []IndexDesc
	Private  bool
	Schedule *ScheduleDesc
}

// ModuleDesc is the full self-description a module emits at publish time.
type ModuleDesc struct {
	Tables   []TableDesc
	Reducers []ReducerDesc
}

// Validate checks the description against spec.md §4.4's publish-time
// rules: "every auto-inc column is a non-negative integer type; every PK
// is a single-column unique; every scheduled table has the required
// fields; every index column exists."
func (m *ModuleDesc) Validate() error {
	seenTables := make(map[string]bool, len(m.Tables))
	for _, t := range m.Tables {
		if seenTables[t.Name] {
			return fmt.Errorf("moduledesc: duplicate table %q", t.Name)
		}
		seenTables[t.Name] = true

		if t.RowType.Kind != bsatn.KindProduct {
			return fmt.Errorf("moduledesc: table %q row type must be a product", t.Name)
		}
		if len(t.RowType.Elements) != len(t.Columns) {
			return fmt.Errorf("moduledesc: table %q has %d fields but %d column descriptors", t.Name, len(t.RowType.Elements), len(t.Columns))
		}

		colIndex := make(map[string]int, len(t.Columns))
		pkCount := 0
		for i, c := range t.Columns {
			colIndex[c.Name] = i
			if c.PrimaryKey {
				pkCount++
				if !c.Unique {
					return fmt.Errorf("moduledesc: table %q column %q is a primary key but not unique", t.Name, c.Name)
				}
			}
			if c.AutoIncrement {
				k := t.RowType.Elements[i].Type.Kind
				if !k.IsInteger() || !k.IsUnsigned() {
					return fmt.Errorf("moduledesc: table %q column %q is auto-increment but not a non-negative integer type", t.Name, c.Name)
				}
			}
		}
		if pkCount > 1 {
			return fmt.Errorf("moduledesc: table %q declares %d primary keys, want at most 1", t.Name, pkCount)
		}

		for _, idx := range t.Indexes {
			if _, ok := colIndex[idx.Column]; !ok {
				return fmt.Errorf("moduledesc: table %q index %q references unknown column %q", t.Name, idx.Name, idx.Column)
			}
		}

		if t.Schedule != nil {
			col, ok := colIndex[t.Schedule.ScheduledAtCol]
			if !ok {
				return fmt.Errorf("moduledesc: scheduled table %q missing its scheduled-at column %q", t.Name, t.Schedule.ScheduledAtCol)
			}
			if t.RowType.Elements[col].Type.Kind != bsatn.KindSum {
				return fmt.Errorf("moduledesc: scheduled table %q column %q must be the time|interval sum type", t.Name, t.Schedule.ScheduledAtCol)
			}
			if t.Schedule.ReducerName == "" {
				return fmt.Errorf("moduledesc: scheduled table %q missing its reducer name", t.Name)
			}
		}
	}

	seenReducers := make(map[string]bool, len(m.Reducers))
	for _, r := range m.Reducers {
		if seenReducers[r.Name] {
			return fmt.Errorf("moduledesc: duplicate reducer %q", r.Name)
		}
		seenReducers[r.Name] = true
		if r.Args.Kind != bsatn.KindProduct {
			return fmt.Errorf("moduledesc: reducer %q argument type must be a product", r.Name)
		}
	}

	return nil
}

// TableByName returns a table descriptor by name.
func (m *ModuleDesc) TableByName(name string) (TableDesc, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDesc{}, false
}

// ReducerByName returns a reducer descriptor by name.
func (m *ModuleDesc) ReducerByName(name string) (ReducerDesc, bool) {
	for _, r := range m.Reducers {
		if r.Name == name {
			return r, true
		}
	}
	return ReducerDesc{}, false
}
