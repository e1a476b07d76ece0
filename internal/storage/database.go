package storage

import (
	"fmt"
	"sync"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/types"
)

// Database owns every table and serializes all commits through a single
// writer lock, giving the strict-serializable guarantee spec.md §4.2
// requires ("indistinguishable from executing reducers one at a time in
// commit order"). It generalizes the teacher's Database (a map of
// TableImpl behind one sync.RWMutex) into a set of Tables each with their
// own constraint and index state, plus a single Begin() gate.
type Database struct {
	mu      sync.RWMutex
	tables  map[types.TableID]*Table
	byName  map[string]types.TableID
	writeMu sync.Mutex // held for the lifetime of one transaction

	listenersMu    sync.RWMutex
	listeners      map[int]CommitListener
	nextListenerID int
}

// NewDatabase returns an empty database with no tables registered.
func NewDatabase() *Database {
	return &Database{
		tables:    make(map[types.TableID]*Table),
		byName:    make(map[string]types.TableID),
		listeners: make(map[int]CommitListener),
	}
}

// RowChange is one row insert or delete applied by a committed
// transaction, reported to commit listeners in commit order.
type RowChange struct {
	TableID types.TableID
	Insert  bool
	Row     bsatn.AlgebraicValue
}

// CommitListener receives every row change a transaction applied, right
// after it commits. internal/subscription registers one of these to keep
// per-client live queries up to date incrementally instead of re-scanning
// tables on every commit.
type CommitListener func(changes []RowChange)

// Subscribe registers listener to be called once per commit with that
// commit's full row-change set. Returns a function that unregisters it.
func (d *Database) Subscribe(listener CommitListener) (unsubscribe func()) {
	d.listenersMu.Lock()
	id := d.nextListenerID
	d.nextListenerID++
	d.listeners[id] = listener
	d.listenersMu.Unlock()

	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

func (d *Database) notifyListeners(changes []RowChange) {
	if len(changes) == 0 {
		return
	}
	d.listenersMu.RLock()
	defer d.listenersMu.RUnlock()
	for _, listener := range d.listeners {
		listener(changes)
	}
}

// RegisterTable adds a table built from a schema. Called once per table
// while applying a module's describe-module output.
func (d *Database) RegisterTable(schema *TableSchema) *Table {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := NewTable(schema)
	d.tables[schema.ID] = t
	d.byName[schema.Name] = schema.ID
	return t
}

// Table returns a table by ID.
func (d *Database) Table(id types.TableID) (*Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[id]
	return t, ok
}

// TableByName returns a table by name.
func (d *Database) TableByName(name string) (*Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.tables[id], true
}

// AllTables returns every registered table, for WAL checkpointing and
// __describe_module__ cross-checks.
func (d *Database) AllTables() []*Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	return out
}

// Begin acquires the single-writer lock and returns a Transaction. The
// caller must call Commit or Rollback exactly once.
func (d *Database) Begin() *Transaction {
	d.writeMu.Lock()
	return &Transaction{db: d, sets: make(map[types.TableID]*writeSet)}
}

// writeSet buffers one table's uncommitted mutations so reads inside the
// transaction see read-your-writes without other transactions observing
// partial effects (spec.md §4.2: "partial effects are never observable").
type writeSet struct {
	inserted map[RowID]row
	deleted  map[RowID]bool
	order    []RowID // insertion order, for stable iteration
}

func newWriteSet() *writeSet {
	return &writeSet{inserted: make(map[RowID]row), deleted: make(map[RowID]bool)}
}

// Transaction is the execution context of one reducer call.
type Transaction struct {
	db       *Database
	sets     map[types.TableID]*writeSet
	finished bool
}

func (tx *Transaction) setFor(t *Table) *writeSet {
	ws, ok := tx.sets[t.schema.ID]
	if !ok {
		ws = newWriteSet()
		tx.sets[t.schema.ID] = ws
	}
	return ws
}

// Commit applies every buffered mutation to its table atomically and
// releases the writer lock. Index and row-count state updates happen
// entirely under each table's own mutex so concurrent readers outside a
// transaction never observe a half-applied commit.
func (tx *Transaction) Commit() error {
	if tx.finished {
		return fmt.Errorf("storage: transaction already finished")
	}
	defer tx.finish()

	var changes []RowChange
	for tableID, ws := range tx.sets {
		t, ok := tx.db.tables[tableID]
		if !ok {
			continue
		}
		t.mu.Lock()
		for _, id := range ws.order {
			if ws.deleted[id] {
				continue
			}
			if old, existed := t.rows[id]; existed {
				t.unindexRow(old)
				changes = append(changes, RowChange{TableID: tableID, Insert: false, Row: old.values})
			}
			r := ws.inserted[id]
			t.rows[id] = r
			t.indexRow(r)
			changes = append(changes, RowChange{TableID: tableID, Insert: true, Row: r.values})
		}
		for id := range ws.deleted {
			if r, ok := t.rows[id]; ok {
				t.unindexRow(r)
				delete(t.rows, id)
				t.forgetSchedule(id)
				changes = append(changes, RowChange{TableID: tableID, Insert: false, Row: r.values})
			}
		}
		t.mu.Unlock()
	}
	tx.db.notifyListeners(changes)
	return nil
}

// Rollback discards every buffered mutation. Sequence values already
// reserved by Insert/TryInsert during this transaction are not returned
// (see Sequence's reserve-on-attempt doc comment).
func (tx *Transaction) Rollback() {
	if tx.finished {
		return
	}
	tx.finish()
}

func (tx *Transaction) finish() {
	tx.finished = true
	tx.db.writeMu.Unlock()
}
