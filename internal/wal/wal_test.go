package wal

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	identity := types.Identity{1}
	conn := types.ConnectionId{2}

	id1, err := w.Append(Record{
		SchemaVersion:    1,
		CallerIdentity:   identity,
		CallerConnection: conn,
		ReducerName:      "add_player",
		ArgsBytes:        []byte("args1"),
		Ops: []Op{
			{Kind: OpInsert, TableName: "player", RowBytes: []byte("row1")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)

	id2, err := w.Append(Record{ReducerName: "remove_player", Ops: []Op{
		{Kind: OpDelete, TableName: "player", RowBytes: []byte("row1")},
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2)
	require.NoError(t, w.Close())

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].CommitID)
	assert.Equal(t, "add_player", records[0].ReducerName)
	assert.Equal(t, identity, records[0].CallerIdentity)
	assert.Equal(t, conn, records[0].CallerConnection)
	assert.Equal(t, []byte("args1"), records[0].ArgsBytes)
	require.Len(t, records[0].Ops, 1)
	assert.Equal(t, OpInsert, records[0].Ops[0].Kind)
	assert.Equal(t, "player", records[0].Ops[0].TableName)

	assert.Equal(t, uint64(2), records[1].CommitID)
	assert.Equal(t, OpDelete, records[1].Ops[0].Kind)

	assert.Equal(t, uint64(3), NextCommitID(records))
}

func TestReadAllMergesMultipleSegmentsInCommitOrder(t *testing.T) {
	dir := t.TempDir()

	w1, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	_, err = w1.Append(Record{ReducerName: "first"})
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	w2.SetNextCommitID(2)
	_, err = w2.Append(Record{ReducerName: "second"})
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].ReducerName)
	assert.Equal(t, "second", records[1].ReducerName)
}

func TestReadAllOnMissingDirReturnsEmpty(t *testing.T) {
	records, err := ReadAll("/nonexistent/path/for/wal/test")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFsyncConfigDoesNotError(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, Fsync: true})
	require.NoError(t, err)
	_, err = w.Append(Record{ReducerName: "synced"})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
