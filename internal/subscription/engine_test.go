package subscription

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerTable(t *testing.T, db *storage.Database, private bool) *storage.Table {
	t.Helper()
	rowType := bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "name", Type: bsatn.String()},
	)
	cols := []storage.ColumnConstraint{
		{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true},
		{Name: "name"},
	}
	schema, err := storage.NewTableSchema(types.TableID(1), "player", rowType, cols, private, nil)
	require.NoError(t, err)
	return db.RegisterTable(schema)
}

type recordingDelivery struct {
	deliveries map[types.ConnectionId][]RowUpdate
}

func newRecordingDelivery() *recordingDelivery {
	return &recordingDelivery{deliveries: make(map[types.ConnectionId][]RowUpdate)}
}

func (d *recordingDelivery) Deliver(conn types.ConnectionId, updates []RowUpdate) {
	d.deliveries[conn] = append(d.deliveries[conn], updates...)
}

func TestSubscribeReturnsAppliedSnapshot(t *testing.T) {
	db := storage.NewDatabase()
	table := playerTable(t, db, false)

	tx := db.Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("alice")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	delivery := newRecordingDelivery()
	engine := NewEngine(db, delivery)
	defer engine.Close()

	conn := types.ConnectionId{1}
	snapshot, err := engine.Subscribe(conn, "q1", "player", AllRows{})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "alice", snapshot[0].Elements[1].Str)
}

func TestSubscribeRejectsPrivateTable(t *testing.T) {
	db := storage.NewDatabase()
	playerTable(t, db, true)

	engine := NewEngine(db, newRecordingDelivery())
	defer engine.Close()

	_, err := engine.Subscribe(types.ConnectionId{1}, "q1", "player", AllRows{})
	assert.Error(t, err)
}

func TestOnCommitDeliversMatchingDelta(t *testing.T) {
	db := storage.NewDatabase()
	table := playerTable(t, db, false)

	delivery := newRecordingDelivery()
	engine := NewEngine(db, delivery)
	defer engine.Close()

	conn := types.ConnectionId{1}
	_, err := engine.Subscribe(conn, "q1", "player", AllRows{})
	require.NoError(t, err)

	tx := db.Begin()
	_, err = table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("bob")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	updates := delivery.deliveries[conn]
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Insert)
	assert.Equal(t, "bob", updates[0].Row.Elements[1].Str)
}

func TestOnCommitSkipsNonMatchingPredicate(t *testing.T) {
	db := storage.NewDatabase()
	table := playerTable(t, db, false)

	delivery := newRecordingDelivery()
	engine := NewEngine(db, delivery)
	defer engine.Close()

	conn := types.ConnectionId{1}
	pred := ColumnCompare{ColumnIndex: 1, Op: OpEq, Literal: bsatn.StringValue("carol")}
	_, err := engine.Subscribe(conn, "q1", "player", pred)
	require.NoError(t, err)

	tx := db.Begin()
	_, err = table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("dave")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, delivery.deliveries[conn])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	db := storage.NewDatabase()
	table := playerTable(t, db, false)

	delivery := newRecordingDelivery()
	engine := NewEngine(db, delivery)
	defer engine.Close()

	conn := types.ConnectionId{1}
	_, err := engine.Subscribe(conn, "q1", "player", AllRows{})
	require.NoError(t, err)
	engine.Unsubscribe(conn, "q1")

	tx := db.Begin()
	_, err = table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("erin")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, delivery.deliveries[conn])
}
