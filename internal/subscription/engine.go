package subscription

import (
	"sync"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/puzpuzpuz/xsync/v3"
)

// Query is one client's live subscription against a single table.
type Query struct {
	ID        string
	TableID   types.TableID
	TableName string
	Predicate Predicate
}

// RowUpdate is one row entering or leaving a query's result set.
type RowUpdate struct {
	QueryID   string
	TableName string
	Insert    bool
	Row       bsatn.AlgebraicValue
}

// Delivery is how the engine hands a client's deltas off to its
// transport. internal/session implements this over the websocket
// connection; tests can supply a recording stub.
type Delivery interface {
	Deliver(conn types.ConnectionId, updates []RowUpdate)
}

type clientState struct {
	mu      sync.Mutex
	queries map[string]Query
}

// Engine tracks every client's subscribed queries against one database and
// turns each committed transaction's row changes into per-client,
// per-query deltas (spec.md §4.5's incremental update half of the
// protocol). The per-client registry is a puzpuzpuz/xsync.MapOf so one
// client subscribing/unsubscribing never blocks another's commit-delta
// delivery.
type Engine struct {
	db       *storage.Database
	clients  *xsync.MapOf[types.ConnectionId, *clientState]
	delivery Delivery
	unsub    func()
}

// NewEngine registers a commit listener on db and returns an Engine ready
// to accept client subscriptions.
func NewEngine(db *storage.Database, delivery Delivery) *Engine {
	e := &Engine{
		db:       db,
		clients:  xsync.NewMapOf[types.ConnectionId, *clientState](),
		delivery: delivery,
	}
	e.unsub = db.Subscribe(e.onCommit)
	return e
}

// Close unregisters the engine's commit listener.
func (e *Engine) Close() { e.unsub() }

func (e *Engine) clientFor(conn types.ConnectionId) *clientState {
	cs, _ := e.clients.LoadOrStore(conn, &clientState{queries: make(map[string]Query)})
	return cs
}

// Subscribe registers a query for conn and returns its applied snapshot:
// every currently-committed row matching predicate, per spec.md §4.5's
// "applied-snapshot handshake". Subscribing to a private table is
// rejected; private tables are visible only from inside a reducer.
func (e *Engine) Subscribe(conn types.ConnectionId, queryID, tableName string, predicate Predicate) ([]bsatn.AlgebraicValue, error) {
	table, ok := e.db.TableByName(tableName)
	if !ok {
		return nil, &stdberr.NotFound{Table: tableName}
	}
	if table.Private() {
		return nil, &stdberr.PrivateTableAccess{Table: tableName}
	}
	if predicate == nil {
		predicate = AllRows{}
	}

	tx := e.db.Begin()
	rows := table.Iter(tx)
	tx.Rollback()

	snapshot := make([]bsatn.AlgebraicValue, 0, len(rows))
	for _, r := range rows {
		if predicate.Eval(r) {
			snapshot = append(snapshot, r)
		}
	}

	cs := e.clientFor(conn)
	cs.mu.Lock()
	cs.queries[queryID] = Query{ID: queryID, TableID: table.ID(), TableName: tableName, Predicate: predicate}
	cs.mu.Unlock()

	return snapshot, nil
}

// Unsubscribe drops one query for conn.
func (e *Engine) Unsubscribe(conn types.ConnectionId, queryID string) {
	cs, ok := e.clients.Load(conn)
	if !ok {
		return
	}
	cs.mu.Lock()
	delete(cs.queries, queryID)
	cs.mu.Unlock()
}

// Disconnect drops every query belonging to conn, called when a client's
// session closes.
func (e *Engine) Disconnect(conn types.ConnectionId) {
	e.clients.Delete(conn)
}

// onCommit is the storage.CommitListener: for every client with at least
// one query over an affected table, it computes that client's delta and
// hands it to Delivery, in commit order (spec.md §4.5's "cross-client
// ordering by commit order" — onCommit runs synchronously inside
// Database.Commit, under the single writer lock, so no two commits'
// notifications interleave).
func (e *Engine) onCommit(changes []storage.RowChange) {
	e.clients.Range(func(conn types.ConnectionId, cs *clientState) bool {
		cs.mu.Lock()
		var updates []RowUpdate
		for _, q := range cs.queries {
			for _, ch := range changes {
				if ch.TableID != q.TableID {
					continue
				}
				if !q.Predicate.Eval(ch.Row) {
					continue
				}
				updates = append(updates, RowUpdate{
					QueryID:   q.ID,
					TableName: q.TableName,
					Insert:    ch.Insert,
					Row:       ch.Row,
				})
			}
		}
		cs.mu.Unlock()

		if len(updates) > 0 && e.delivery != nil {
			e.delivery.Deliver(conn, updates)
		}
		return true
	})
}
