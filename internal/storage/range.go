package storage

import (
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/google/btree"
)

// IndexScanRange returns rows whose indexed column falls in the half-open
// range [lo, hi) of BSATN-lex order, per spec.md §4.3's
// index_scan_range semantics. A nil lo or hi means unbounded on that side.
func (t *Table) IndexScanRange(tx *Transaction, col string, lo, hi []byte) ([]bsatn.AlgebraicValue, error) {
	t.mu.RLock()
	tree, ok := t.indexes[col]
	t.mu.RUnlock()
	if !ok {
		// Not an indexed column: fall back to a full scan plus filter,
		// which still satisfies the contract, just without B-tree pruning.
		return t.rangeScanUnindexed(tx, col, lo, hi)
	}

	idx := t.schema.ColumnIndex(col)
	ws := tx.sets[t.schema.ID]

	t.mu.RLock()
	var ids []RowID
	visit := func(i btree.Item) bool {
		e := i.(indexEntry)
		if hi != nil && compareBytes(e.key, hi) >= 0 {
			return false
		}
		ids = append(ids, e.row)
		return true
	}
	if lo == nil {
		tree.Ascend(visit)
	} else {
		tree.AscendGreaterOrEqual(indexEntry{key: lo}, visit)
	}
	rowsByID := make(map[RowID]row, len(ids))
	for _, id := range ids {
		if r, ok := t.rows[id]; ok {
			rowsByID[id] = r
		}
	}
	t.mu.RUnlock()

	out := make([]bsatn.AlgebraicValue, 0, len(ids))
	for _, id := range ids {
		if ws != nil {
			if _, updated := ws.inserted[id]; updated || ws.deleted[id] {
				continue
			}
		}
		if r, ok := rowsByID[id]; ok {
			out = append(out, r.values)
		}
	}
	if ws != nil {
		for _, id := range ws.order {
			if ws.deleted[id] {
				continue
			}
			r, ok := ws.inserted[id]
			if !ok {
				continue
			}
			key, err := t.columnKey(r.values, idx)
			if err != nil {
				continue
			}
			if lo != nil && compareBytes(key, lo) < 0 {
				continue
			}
			if hi != nil && compareBytes(key, hi) >= 0 {
				continue
			}
			out = append(out, r.values)
		}
	}
	return out, nil
}

func (t *Table) rangeScanUnindexed(tx *Transaction, col string, lo, hi []byte) ([]bsatn.AlgebraicValue, error) {
	idx := t.schema.ColumnIndex(col)
	if idx < 0 {
		return nil, nil
	}
	rows := t.snapshot(tx)
	out := make([]bsatn.AlgebraicValue, 0)
	for _, r := range rows {
		key, err := t.columnKey(r.values, idx)
		if err != nil {
			continue
		}
		if lo != nil && compareBytes(key, lo) < 0 {
			continue
		}
		if hi != nil && compareBytes(key, hi) >= 0 {
			continue
		}
		out = append(out, r.values)
	}
	return out, nil
}
