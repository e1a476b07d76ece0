package storage

import (
	"sort"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
)

// indexRow and unindexRow keep every unique/PK column's B-tree in sync.
// Callers must hold t.mu.

func (t *Table) indexRow(r row) {
	for col, tree := range t.indexes {
		idx := t.schema.ColumnIndex(col)
		key, err := t.columnKey(r.values, idx)
		if err != nil {
			continue
		}
		tree.ReplaceOrInsert(indexEntry{key: key, row: r.id})
	}
}

func (t *Table) unindexRow(r row) {
	for col, tree := range t.indexes {
		idx := t.schema.ColumnIndex(col)
		key, err := t.columnKey(r.values, idx)
		if err != nil {
			continue
		}
		tree.Delete(indexEntry{key: key, row: r.id})
	}
}

// snapshot returns the rows visible to tx: every committed row not deleted
// or updated in tx's write set, plus every row tx has inserted or updated
// (an updated row appears once, in its new form). Order is committed
// rows first (ascending RowID) then tx-local rows in write order,
// which is enough for "snapshot-stable within the transaction" (§4.2) since
// callers never depend on a particular row ordering beyond that stability.
func (t *Table) snapshot(tx *Transaction) []row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ws := tx.sets[t.schema.ID]
	out := make([]row, 0, len(t.rows))
	for id, r := range t.rows {
		if ws != nil {
			if _, updated := ws.inserted[id]; updated || ws.deleted[id] {
				continue
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	if ws != nil {
		for _, id := range ws.order {
			if ws.deleted[id] {
				continue
			}
			if r, ok := ws.inserted[id]; ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// Iter returns every row visible in tx's snapshot.
func (t *Table) Iter(tx *Transaction) []bsatn.AlgebraicValue {
	rows := t.snapshot(tx)
	out := make([]bsatn.AlgebraicValue, len(rows))
	for i, r := range rows {
		out[i] = r.values
	}
	return out
}

// Count returns the number of rows visible in tx's snapshot.
func (t *Table) Count(tx *Transaction) uint64 {
	return uint64(len(t.snapshot(tx)))
}

// FilterBy returns every row whose named column equals value.
func (t *Table) FilterBy(tx *Transaction, col string, value bsatn.AlgebraicValue) ([]bsatn.AlgebraicValue, error) {
	idx := t.schema.ColumnIndex(col)
	if idx < 0 {
		return nil, &stdberr.NotFound{Table: t.schema.Name, Key: col}
	}
	rows := t.snapshot(tx)
	out := make([]bsatn.AlgebraicValue, 0)
	for _, r := range rows {
		if t.columnValue(r.values, idx).Equal(value) {
			out = append(out, r.values)
		}
	}
	return out, nil
}

func (t *Table) isUniqueColumn(col string) bool {
	for _, c := range t.schema.Columns {
		if c.Name == col && (c.Unique || c.PrimaryKey) {
			return true
		}
	}
	return false
}

// checkUniqueConflict scans tx's snapshot for an existing row whose unique
// column collides with candidate, other than excludeID.
func (t *Table) checkUniqueConflict(tx *Transaction, candidate bsatn.AlgebraicValue, excludeID RowID, hasExclude bool) error {
	rows := t.snapshot(tx)
	for _, c := range t.schema.Columns {
		if !c.Unique && !c.PrimaryKey {
			continue
		}
		idx := t.schema.ColumnIndex(c.Name)
		cv := t.columnValue(candidate, idx)
		for _, r := range rows {
			if hasExclude && r.id == excludeID {
				continue
			}
			if t.columnValue(r.values, idx).Equal(cv) {
				return &stdberr.UniqueConstraintViolation{Table: t.schema.Name, Column: c.Name}
			}
		}
	}
	return nil
}

// fillAutoInc assigns the next sequence value to every zero-valued
// auto-increment column, and observes explicitly-supplied non-zero values
// so a later Next never collides with them.
func (t *Table) fillAutoInc(r bsatn.AlgebraicValue) bsatn.AlgebraicValue {
	out := r
	out.Elements = append([]bsatn.AlgebraicValue(nil), r.Elements...)
	for _, c := range t.schema.Columns {
		if !c.AutoIncrement {
			continue
		}
		idx := t.schema.ColumnIndex(c.Name)
		cur := out.Elements[idx]
		if cur.U64 == 0 && cur.I64 == 0 {
			seq := t.sequence[c.Name]
			out.Elements[idx] = bsatn.AlgebraicValue{Kind: cur.Kind, U64: seq.Next()}
		} else {
			t.sequence[c.Name].Observe(cur.U64)
		}
	}
	return out
}

// TryInsert fills auto-inc columns, validates unique/PK constraints, and
// buffers the row into tx's write set. The sequence value is reserved even
// if the unique check below fails (Sequence's reserve-on-attempt contract).
func (t *Table) TryInsert(tx *Transaction, r bsatn.AlgebraicValue) (bsatn.AlgebraicValue, error) {
	t.mu.Lock()
	filled := t.fillAutoInc(r)
	id := t.nextRow
	t.nextRow++
	t.mu.Unlock()

	if err := t.checkUniqueConflict(tx, filled, 0, false); err != nil {
		return bsatn.AlgebraicValue{}, err
	}

	ws := tx.setFor(t)
	ws.inserted[id] = row{id: id, values: filled}
	ws.order = append(ws.order, id)
	return filled, nil
}

// Insert is TryInsert with the teacher's panic-on-conflict ABI contract
// left to the caller: internal/hostmodule translates the returned error
// into a trap for `insert`, and into a value for `try_insert`.
func (t *Table) Insert(tx *Transaction, r bsatn.AlgebraicValue) (bsatn.AlgebraicValue, error) {
	return t.TryInsert(tx, r)
}

// DeleteByColumn deletes at most one row matching a unique column value,
// reporting whether any row was deleted.
func (t *Table) DeleteByColumn(tx *Transaction, col string, value bsatn.AlgebraicValue) (bool, error) {
	idx := t.schema.ColumnIndex(col)
	if idx < 0 {
		return false, &stdberr.NotFound{Table: t.schema.Name, Key: col}
	}
	rows := t.snapshot(tx)
	for _, r := range rows {
		if t.columnValue(r.values, idx).Equal(value) {
			ws := tx.setFor(t)
			ws.deleted[r.id] = true
			return true, nil
		}
	}
	return false, nil
}

// ReplayInsert inserts r exactly as given, skipping auto-increment filling
// and unique-constraint checks: the row already carries its committed
// column values, validated once already before the process that wrote it
// to the WAL restarted. Auto-increment sequences are still observed so a
// reducer call after replay continues the sequence rather than reusing an
// id already on disk.
func (t *Table) ReplayInsert(tx *Transaction, r bsatn.AlgebraicValue) {
	t.mu.Lock()
	id := t.nextRow
	t.nextRow++
	for _, c := range t.schema.Columns {
		if !c.AutoIncrement {
			continue
		}
		idx := t.schema.ColumnIndex(c.Name)
		t.sequence[c.Name].Observe(t.columnValue(r, idx).U64)
	}
	t.mu.Unlock()

	ws := tx.setFor(t)
	ws.inserted[id] = row{id: id, values: r}
	ws.order = append(ws.order, id)
}

// ReplayDelete removes the first row exactly equal to r. Used only by
// internal/wal replay to apply a logged delete op.
func (t *Table) ReplayDelete(tx *Transaction, r bsatn.AlgebraicValue) {
	rows := t.snapshot(tx)
	for _, existing := range rows {
		if existing.values.Equal(r) {
			ws := tx.setFor(t)
			ws.deleted[existing.id] = true
			return
		}
	}
}

// UpdateByPrimaryKey replaces the row with the given primary-key value,
// preserving its RowID (and thus its position for any already-open
// iterators) so auto-inc identity and subscription diffing see the same
// logical row rather than a delete+insert pair.
func (t *Table) UpdateByPrimaryKey(tx *Transaction, pkValue bsatn.AlgebraicValue, newRow bsatn.AlgebraicValue) (bsatn.AlgebraicValue, error) {
	if t.schema.pkColIndex < 0 {
		return bsatn.AlgebraicValue{}, &stdberr.NotFound{Table: t.schema.Name, Key: "<no primary key>"}
	}
	pkIdx := t.schema.pkColIndex
	rows := t.snapshot(tx)
	var found *row
	for i := range rows {
		if t.columnValue(rows[i].values, pkIdx).Equal(pkValue) {
			found = &rows[i]
			break
		}
	}
	if found == nil {
		return bsatn.AlgebraicValue{}, &stdberr.NotFound{Table: t.schema.Name, Key: "primary key"}
	}
	if err := t.checkUniqueConflict(tx, newRow, found.id, true); err != nil {
		return bsatn.AlgebraicValue{}, err
	}

	ws := tx.setFor(t)
	delete(ws.deleted, found.id)
	ws.inserted[found.id] = row{id: found.id, values: newRow}
	alreadyQueued := false
	for _, id := range ws.order {
		if id == found.id {
			alreadyQueued = true
			break
		}
	}
	if !alreadyQueued {
		ws.order = append(ws.order, found.id)
	}
	return newRow, nil
}
