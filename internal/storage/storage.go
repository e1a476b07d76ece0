// Package storage implements the storage engine of spec.md §4.2: a set of
// tables, each with a monotonic sequence per auto-increment column, B-tree
// indexes, and transactions serialized by a single writer lock. It generalizes
// the teacher's internal/db package (Database/TableImpl/IndexImpl, each a
// mutex-guarded map) from an untyped byte-key store into one that
// understands algebraic rows, unique/PK constraints, and index range scans.
package storage

import (
	"fmt"
	"sync"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/google/btree"
	"github.com/rs/zerolog/log"
)

// RowID identifies a row within a table. Rows are stored by value in a map
// keyed by RowID; each insert takes the next value of a per-table counter.
type RowID uint64

// ColumnConstraint describes one column's role in constraint enforcement.
type ColumnConstraint struct {
	Name          string
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
}

// ScheduleBinding names the reducer a scheduled table's rows fire into, and
// which column carries the ScheduleAt sum value.
type ScheduleBinding struct {
	ReducerName    string
	ScheduledAtCol string
}

// TableSchema is a table's static shape: its row type plus constraint and
// scheduling metadata. It is built once from a module's __describe_module__
// output (see internal/moduledesc) and never mutates afterward.
type TableSchema struct {
	ID          types.TableID
	Name        string
	RowType     bsatn.AlgebraicType
	Columns     []ColumnConstraint
	Private     bool
	Schedule    *ScheduleBinding
	pkColIndex  int
	colIndexOf  map[string]int
}

// NewTableSchema builds the column-name lookup caches used by Table.
func NewTableSchema(id types.TableID, name string, rowType bsatn.AlgebraicType, cols []ColumnConstraint, private bool, sched *ScheduleBinding) (*TableSchema, error) {
	if rowType.Kind != bsatn.KindProduct {
		return nil, fmt.Errorf("storage: row type of table %q must be a product", name)
	}
	if len(rowType.Elements) != len(cols) {
		return nil, fmt.Errorf("storage: table %q has %d fields but %d column constraints", name, len(rowType.Elements), len(cols))
	}
	s := &TableSchema{
		ID: id, Name: name, RowType: rowType, Columns: cols, Private: private, Schedule: sched,
		pkColIndex: -1,
		colIndexOf: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		s.colIndexOf[c.Name] = i
		if c.PrimaryKey {
			s.pkColIndex = i
		}
	}
	return s, nil
}

// PrimaryKeyColumn returns the name of the table's primary-key column, if
// it has one.
func (s *TableSchema) PrimaryKeyColumn() (string, bool) {
	if s.pkColIndex < 0 {
		return "", false
	}
	return s.Columns[s.pkColIndex].Name, true
}

// ColumnIndex returns the field position of a named column, or -1.
func (s *TableSchema) ColumnIndex(name string) int {
	if i, ok := s.colIndexOf[name]; ok {
		return i
	}
	return -1
}

// row is a committed table row plus the RowID it was assigned at insert.
type row struct {
	id     RowID
	values bsatn.AlgebraicValue
}

// indexEntry is a google/btree item: a BSATN-lex encoded key followed by
// the committed RowID it points at. Keys are compared byte-lexicographically
// per spec.md §4.2, which gives a total order matching column-wise
// comparison of each indexed column's BSATN encoding.
type indexEntry struct {
	key []byte
	row RowID
}

func (a indexEntry) Less(b btree.Item) bool {
	other := b.(indexEntry)
	cmp := compareBytes(a.key, other.key)
	if cmp != 0 {
		return cmp < 0
	}
	return a.row < other.row
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Table holds one table's committed rows, its per-column indexes, and its
// auto-increment sequences. All access outside a Transaction takes the
// mutex directly; access from within a Transaction goes through the
// transaction's write set (see database.go).
type Table struct {
	mu       sync.RWMutex
	schema   *TableSchema
	rows     map[RowID]row
	nextRow  RowID
	indexes  map[string]*btree.BTree // column name -> index tree
	sequence map[string]*Sequence    // column name -> auto-inc sequence

	scheduleMu   sync.Mutex
	scheduleNext map[RowID]types.Timestamp // interval() rows: tracked next-fire deadline
}

// NewTable constructs an empty table from its schema, building a B-tree
// index for every unique or primary-key column and a Sequence for every
// auto-increment column.
func NewTable(schema *TableSchema) *Table {
	t := &Table{
		schema:       schema,
		rows:         make(map[RowID]row),
		indexes:      make(map[string]*btree.BTree),
		sequence:     make(map[string]*Sequence),
		scheduleNext: make(map[RowID]types.Timestamp),
	}
	for _, c := range schema.Columns {
		if c.Unique || c.PrimaryKey {
			t.indexes[c.Name] = btree.New(32)
		}
		if c.AutoIncrement {
			t.sequence[c.Name] = NewSequence()
		}
	}
	return t
}

// ID returns the table's identifier, used by the host ABI to translate
// table_id_from_name lookups and iterator handles back to a *Table.
func (t *Table) ID() types.TableID { return t.schema.ID }

// Name returns the table's declared name.
func (t *Table) Name() string { return t.schema.Name }

// Schema exposes the table's static shape to the host ABI and the
// subscription engine, which both need the row type to decode/encode rows
// crossing a boundary (WASM linear memory, websocket frames).
func (t *Table) Schema() *TableSchema { return t.schema }

// Private reports whether the table's rows must never reach a client.
func (t *Table) Private() bool { return t.schema.Private }

func (t *Table) columnValue(r bsatn.AlgebraicValue, colIdx int) bsatn.AlgebraicValue {
	return r.Elements[colIdx]
}

func (t *Table) columnKey(r bsatn.AlgebraicValue, colIdx int) ([]byte, error) {
	colType := t.schema.RowType.Elements[colIdx].Type
	return bsatn.Encode(t.columnValue(r, colIdx), colType)
}

// logRowCount writes a debug-level structured log entry in the idiom the
// module host uses for console_log: table name plus row count, nothing more.
func (t *Table) logRowCount(op string) {
	log.Debug().Str("table", t.schema.Name).Str("op", op).Int("rows", len(t.rows)).Msg("storage")
}
