package storage

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerSchema(t *testing.T) *TableSchema {
	t.Helper()
	rowType := bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "name", Type: bsatn.String()},
	)
	cols := []ColumnConstraint{
		{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true},
		{Name: "name", Unique: true},
	}
	schema, err := NewTableSchema(types.TableID(1), "player", rowType, cols, false, nil)
	require.NoError(t, err)
	return schema
}

func playerRow(id uint64, name string) bsatn.AlgebraicValue {
	return bsatn.ProductValue(bsatn.U64Value(id), bsatn.StringValue(name))
}

func TestInsertFillsAutoIncAndCommits(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	row, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.Elements[0].U64)
	require.NoError(t, tx.Commit())

	tx2 := db.Begin()
	assert.Equal(t, uint64(1), table.Count(tx2))
	tx2.Rollback()
}

func TestUniqueConstraintViolationOnInsert(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	_, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2 := db.Begin()
	_, err = table.TryInsert(tx2, playerRow(0, "alice"))
	var conflict *stdberr.UniqueConstraintViolation
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "name", conflict.Column)
	tx2.Rollback()
}

func TestAutoIncSequenceReservedEvenOnRolledBackInsert(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	_, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// This insert will fail its unique check on "name", but the sequence
	// value it reserved must not be handed out again.
	tx2 := db.Begin()
	_, err = table.TryInsert(tx2, playerRow(0, "alice"))
	require.Error(t, err)
	tx2.Rollback()

	tx3 := db.Begin()
	row, err := table.Insert(tx3, playerRow(0, "bob"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), row.Elements[0].U64, "sequence must have burned the rolled-back attempt's value")
	require.NoError(t, tx3.Commit())
}

func TestUpdateByPrimaryKeyPreservesRowIdentity(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	inserted, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2 := db.Begin()
	updated, err := table.UpdateByPrimaryKey(tx2, inserted.Elements[0], playerRow(inserted.Elements[0].U64, "alice2"))
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())
	assert.Equal(t, "alice2", updated.Elements[1].Str)

	tx3 := db.Begin()
	rows, err := table.FilterBy(tx3, "name", bsatn.StringValue("alice2"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tx3.Rollback()
}

func TestDeleteByColumn(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	_, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2 := db.Begin()
	deleted, err := table.DeleteByColumn(tx2, "name", bsatn.StringValue("alice"))
	require.NoError(t, err)
	assert.True(t, deleted)
	require.NoError(t, tx2.Commit())

	tx3 := db.Begin()
	assert.Equal(t, uint64(0), table.Count(tx3))
	tx3.Rollback()
}

func TestReadYourWritesWithinTransaction(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(playerSchema(t))

	tx := db.Begin()
	_, err := table.Insert(tx, playerRow(0, "alice"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), table.Count(tx), "uncommitted insert must be visible to the same transaction")
	tx.Rollback()

	tx2 := db.Begin()
	assert.Equal(t, uint64(0), table.Count(tx2), "rolled-back insert must not be visible afterward")
	tx2.Rollback()
}
