package hostmodule

import (
	"github.com/clockworklabs/stdb-core/internal/moduledesc"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
)

// applyDescription creates or migrates db's tables from desc, per spec.md
// §4.4's publish step: "If the database is being created, create all
// tables with their declared schemas. If the database already exists,
// perform a migration: additive changes only ... unless --clear-database."
//
// fresh is true for a brand-new or just-cleared database, in which case db
// must have no tables yet. fresh is false for a migration of a running
// database, in which case any table already present must still be
// described identically; only genuinely new tables may be added.
func applyDescription(db *storage.Database, desc moduledesc.ModuleDesc, fresh bool) error {
	nextTableID := types.TableID(1)
	existingByName := make(map[string]*storage.Table)
	for _, t := range db.AllTables() {
		existingByName[t.Name()] = t
		if t.ID() >= nextTableID {
			nextTableID = t.ID() + 1
		}
	}

	if fresh && len(existingByName) > 0 {
		return &stdberr.SchemaMismatch{Reason: "applyDescription called with fresh=true on a non-empty database"}
	}

	seen := make(map[string]bool, len(desc.Tables))
	for _, td := range desc.Tables {
		seen[td.Name] = true
		existing, ok := existingByName[td.Name]
		if !ok {
			schema, err := storage.NewTableSchema(nextTableID, td.Name, td.RowType, toColumnConstraints(td.Columns), td.Private, toScheduleBinding(td.Schedule))
			if err != nil {
				return err
			}
			db.RegisterTable(schema)
			nextTableID++
			continue
		}
		if !sameShape(existing, td) {
			return &stdberr.SchemaMismatch{Reason: "table " + td.Name + " changed shape; republish with --clear-database to apply non-additive changes"}
		}
	}

	if !fresh {
		for name := range existingByName {
			if !seen[name] {
				return &stdberr.SchemaMismatch{Reason: "table " + name + " was removed; republish with --clear-database to apply non-additive changes"}
			}
		}
	}

	return nil
}

func toColumnConstraints(cols []moduledesc.ColumnDesc) []storage.ColumnConstraint {
	out := make([]storage.ColumnConstraint, len(cols))
	for i, c := range cols {
		out[i] = storage.ColumnConstraint{
			Name:          c.Name,
			PrimaryKey:    c.PrimaryKey,
			Unique:        c.Unique,
			AutoIncrement: c.AutoIncrement,
		}
	}
	return out
}

func toScheduleBinding(s *moduledesc.ScheduleDesc) *storage.ScheduleBinding {
	if s == nil {
		return nil
	}
	return &storage.ScheduleBinding{ReducerName: s.ReducerName, ScheduledAtCol: s.ScheduledAtCol}
}

// sameShape reports whether an already-registered table matches a
// re-described table's column set closely enough to be the "additive"
// migration spec.md §4.4 allows: same row type, same columns in the same
// constraint roles. New indexes on an existing table are allowed (they
// don't change the row type), so Indexes are not compared here.
func sameShape(existing *storage.Table, td moduledesc.TableDesc) bool {
	schema := existing.Schema()
	if !schema.RowType.Equal(td.RowType) {
		return false
	}
	if len(schema.Columns) != len(td.Columns) {
		return false
	}
	for i, c := range schema.Columns {
		want := td.Columns[i]
		if c.Name != want.Name || c.PrimaryKey != want.PrimaryKey || c.Unique != want.Unique || c.AutoIncrement != want.AutoIncrement {
			return false
		}
	}
	return true
}
