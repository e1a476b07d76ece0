package session

import (
	"context"
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []ServerMessage
}

func (s *recordingSender) Send(_ types.ConnectionId, msg ServerMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

func newTestHost(t *testing.T) *hostmodule.Host {
	t.Helper()
	host, err := hostmodule.NewHost(context.Background(), hostmodule.DefaultConfig(), types.Identity{})
	require.NoError(t, err)
	return host
}

func registerPlayerTable(t *testing.T, db *storage.Database, private bool) *storage.Table {
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

func TestManagerSubscribeReturnsSnapshotAndApplied(t *testing.T) {
	host := newTestHost(t)
	table := registerPlayerTable(t, host.Database(), false)

	tx := host.Database().Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("alice")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}
	conn := types.ConnectionId{1}

	mgr.handleSubscribe(conn, &SubscribeMsg{Queries: []string{"SELECT * FROM player"}, RequestID: 1}, sender)

	require.Len(t, sender.sent, 2)
	require.NotNil(t, sender.sent[0].InitialSubscription)
	require.Len(t, sender.sent[0].InitialSubscription.TableUpdates, 1)
	assert.Equal(t, "player", sender.sent[0].InitialSubscription.TableUpdates[0].TableName)
	assert.Len(t, sender.sent[0].InitialSubscription.TableUpdates[0].Inserts, 1)
	require.NotNil(t, sender.sent[1].SubscribeApplied)
}

func TestManagerSubscribeRejectsUnknownTable(t *testing.T) {
	host := newTestHost(t)
	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}

	mgr.handleSubscribe(types.ConnectionId{1}, &SubscribeMsg{Queries: []string{"SELECT * FROM ghost"}, RequestID: 1}, sender)

	require.Len(t, sender.sent, 1)
	require.NotNil(t, sender.sent[0].SubscribeError)
}

func TestManagerDeliversIncrementalUpdateAfterSubscribe(t *testing.T) {
	host := newTestHost(t)
	table := registerPlayerTable(t, host.Database(), false)
	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}
	conn := types.ConnectionId{2}

	mgr.handleSubscribe(conn, &SubscribeMsg{Queries: []string{"SELECT * FROM player"}, RequestID: 1}, sender)
	sender.sent = nil

	tx := host.Database().Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("bob")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, sender.sent, 1)
	require.NotNil(t, sender.sent[0].TransactionUpdateLight)
	require.Len(t, sender.sent[0].TransactionUpdateLight.TableUpdates, 1)
	assert.Equal(t, [][]byte(nil), sender.sent[0].TransactionUpdateLight.TableUpdates[0].Deletes)
}

func TestManagerOneOffQueryFiltersPredicate(t *testing.T) {
	host := newTestHost(t)
	table := registerPlayerTable(t, host.Database(), false)
	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}
	conn := types.ConnectionId{3}

	tx := host.Database().Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("alice")))
	require.NoError(t, err)
	_, err = table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("carol")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	mgr.handleOneOffQuery(conn, &OneOffQueryMsg{Query: "SELECT * FROM player WHERE name = 'carol'", RequestID: 9}, sender)

	require.Len(t, sender.sent, 1)
	resp := sender.sent[0].OneOffQueryResponse
	require.NotNil(t, resp)
	assert.Equal(t, uint32(9), resp.RequestID)
	assert.Len(t, resp.Rows, 1)
}

func TestManagerOneOffQueryRejectsPrivateTable(t *testing.T) {
	host := newTestHost(t)
	registerPlayerTable(t, host.Database(), true)
	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}

	mgr.handleOneOffQuery(types.ConnectionId{4}, &OneOffQueryMsg{Query: "SELECT * FROM player", RequestID: 1}, sender)

	require.Len(t, sender.sent, 1)
	assert.NotEmpty(t, sender.sent[0].OneOffQueryResponse.Error)
}

func TestManagerUnsubscribeStopsDelivery(t *testing.T) {
	host := newTestHost(t)
	table := registerPlayerTable(t, host.Database(), false)
	mgr := NewManager(host, NewTokenIssuer([]byte("secret"), 0))
	sender := &recordingSender{}
	conn := types.ConnectionId{5}

	mgr.handleSubscribe(conn, &SubscribeMsg{Queries: []string{"SELECT * FROM player"}, RequestID: 1}, sender)
	mgr.HandleClientMessage(context.Background(), types.Identity{}, conn, ClientMessage{Unsubscribe: &UnsubscribeMsg{QueryID: "SELECT * FROM player"}}, sender)
	sender.sent = nil

	tx := host.Database().Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("dave")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, sender.sent)
}
