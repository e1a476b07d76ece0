package wal

import (
	"fmt"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage"
)

// Apply rebuilds db's committed state by replaying records in commit order,
// one storage transaction per record so each commit's ops stay atomic.
// Reducer logic is never re-run (spec.md §4.7: "only the resulting row
// operations are" replayed); each op is applied straight to its table via
// Table.ReplayInsert/ReplayDelete, bypassing the unique-constraint checks a
// live Insert performs since the row was already validated once, by the
// process that originally committed it.
//
// Schema evolution (a record's SchemaVersion diverging from the table's
// current schema) is not handled here: additive migrations are applied by
// the caller after Apply returns, per spec.md §4.7's "additive migrations
// are applied after replay completes."
func Apply(db *storage.Database, records []Record) error {
	for _, rec := range records {
		tx := db.Begin()
		if err := applyRecord(db, tx, rec); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("wal: replaying commit %d: %w", rec.CommitID, err)
		}
	}
	return nil
}

func applyRecord(db *storage.Database, tx *storage.Transaction, rec Record) error {
	for _, op := range rec.Ops {
		table, ok := db.TableByName(op.TableName)
		if !ok {
			return fmt.Errorf("wal: replay references unknown table %q", op.TableName)
		}
		rowVal, _, err := bsatn.Decode(op.RowBytes, table.Schema().RowType)
		if err != nil {
			return fmt.Errorf("wal: decoding row for table %q: %w", op.TableName, err)
		}
		switch op.Kind {
		case OpInsert:
			table.ReplayInsert(tx, rowVal)
		case OpDelete:
			table.ReplayDelete(tx, rowVal)
		default:
			return fmt.Errorf("wal: unknown op kind %d for table %q", op.Kind, op.TableName)
		}
	}
	return nil
}
