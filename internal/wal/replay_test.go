package wal

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerSchema(t *testing.T) *storage.TableSchema {
	t.Helper()
	rowType := bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "name", Type: bsatn.String()},
	)
	cols := []storage.ColumnConstraint{
		{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true},
		{Name: "name"},
	}
	schema, err := storage.NewTableSchema(types.TableID(1), "player", rowType, cols, false, nil)
	require.NoError(t, err)
	return schema
}

func playerRowBytes(t *testing.T, rowType bsatn.AlgebraicType, id uint64, name string) []byte {
	t.Helper()
	b, err := bsatn.Encode(bsatn.ProductValue(bsatn.U64Value(id), bsatn.StringValue(name)), rowType)
	require.NoError(t, err)
	return b
}

func TestApplyReplaysInsertsAndDeletes(t *testing.T) {
	db := storage.NewDatabase()
	schema := playerSchema(t)
	db.RegisterTable(schema)

	records := []Record{
		{CommitID: 1, Ops: []Op{
			{Kind: OpInsert, TableName: "player", RowBytes: playerRowBytes(t, schema.RowType, 1, "alice")},
		}},
		{CommitID: 2, Ops: []Op{
			{Kind: OpInsert, TableName: "player", RowBytes: playerRowBytes(t, schema.RowType, 2, "bob")},
		}},
		{CommitID: 3, Ops: []Op{
			{Kind: OpDelete, TableName: "player", RowBytes: playerRowBytes(t, schema.RowType, 1, "alice")},
		}},
	}

	require.NoError(t, Apply(db, records))

	table, ok := db.TableByName("player")
	require.True(t, ok)
	tx := db.Begin()
	rows := table.Iter(tx)
	tx.Rollback()

	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Elements[1].Str)
}

func TestApplyObservesAutoIncrementSoFollowingInsertDoesNotCollide(t *testing.T) {
	db := storage.NewDatabase()
	schema := playerSchema(t)
	table := db.RegisterTable(schema)

	records := []Record{
		{CommitID: 1, Ops: []Op{
			{Kind: OpInsert, TableName: "player", RowBytes: playerRowBytes(t, schema.RowType, 5, "carol")},
		}},
	}
	require.NoError(t, Apply(db, records))

	tx := db.Begin()
	row, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("dave")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, uint64(6), row.Elements[0].U64)
}

func TestApplyUnknownTableErrors(t *testing.T) {
	db := storage.NewDatabase()
	records := []Record{
		{CommitID: 1, Ops: []Op{{Kind: OpInsert, TableName: "ghost", RowBytes: []byte("x")}}},
	}
	assert.Error(t, Apply(db, records))
}
