package session

import (
	"context"
	"fmt"
	"time"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/metrics"
	"github.com/clockworklabs/stdb-core/internal/moduledesc"
	"github.com/clockworklabs/stdb-core/internal/sql"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/subscription"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Sender delivers one already-framed ServerMessage to a single connection.
// conn.go implements this over a coder/websocket.Conn; tests can supply a
// recording stub.
type Sender interface {
	Send(conn types.ConnectionId, msg ServerMessage) error
}

type clientEntry struct {
	identity types.Identity
	sender   Sender
}

// Manager is the session-protocol coordinator of spec.md §4.6: it owns
// the per-connection registry, dispatches client messages to the module
// host and subscription engine, and turns commit deltas into
// TransactionUpdateLight frames. Generalizes nothing from the teacher (the
// bindings crate never runs a server); its shape instead mirrors
// internal/hostmodule.Host's own "one coordinating struct wrapping the
// database and the wazero runtime" idiom, applied one layer up.
type Manager struct {
	host    *hostmodule.Host
	engine  *subscription.Engine
	issuer  *TokenIssuer
	metrics *metrics.Metrics

	clients *xsync.MapOf[types.ConnectionId, *clientEntry]
}

// SetMetrics wires a counter set into the manager; nil (the default) skips
// all metrics recording.
func (m *Manager) SetMetrics(ms *metrics.Metrics) { m.metrics = ms }

// NewManager builds a Manager wired to host's database via a fresh
// subscription.Engine, which uses the Manager itself as its Delivery.
func NewManager(host *hostmodule.Host, issuer *TokenIssuer) *Manager {
	m := &Manager{
		host:    host,
		issuer:  issuer,
		clients: xsync.NewMapOf[types.ConnectionId, *clientEntry](),
	}
	m.engine = subscription.NewEngine(host.Database(), m)
	return m
}

// Deliver implements subscription.Delivery: it turns one client's matched
// row deltas into a TransactionUpdateLight frame (spec.md §4.6 — clients
// who didn't call the triggering reducer get the light header).
func (m *Manager) Deliver(conn types.ConnectionId, updates []subscription.RowUpdate) {
	entry, ok := m.clients.Load(conn)
	if !ok {
		return
	}
	tableUpdates := groupRowUpdates(updates, m.host.Database())
	if len(tableUpdates) == 0 {
		return
	}
	if err := entry.sender.Send(conn, ServerMessage{TransactionUpdateLight: &TransactionUpdateLightMsg{TableUpdates: tableUpdates}}); err != nil {
		log.Warn().Err(err).Str("conn", conn.String()).Msg("session: delivering subscription update failed")
	}
}

func groupRowUpdates(updates []subscription.RowUpdate, db *storage.Database) []TableRowUpdate {
	byTable := make(map[string]*TableRowUpdate)
	order := make([]string, 0, 4)
	for _, u := range updates {
		tr, ok := byTable[u.TableName]
		if !ok {
			tr = &TableRowUpdate{TableName: u.TableName}
			byTable[u.TableName] = tr
			order = append(order, u.TableName)
		}
		table, ok := db.TableByName(u.TableName)
		if !ok {
			continue
		}
		rowBytes, err := bsatn.Encode(u.Row, table.Schema().RowType)
		if err != nil {
			log.Warn().Err(err).Str("table", u.TableName).Msg("session: encoding row update failed")
			continue
		}
		if u.Insert {
			tr.Inserts = append(tr.Inserts, rowBytes)
		} else {
			tr.Deletes = append(tr.Deletes, rowBytes)
		}
	}
	out := make([]TableRowUpdate, 0, len(order))
	for _, name := range order {
		out = append(out, *byTable[name])
	}
	return out
}

// Connect registers a new session, issues its IdentityToken, and fires the
// module's client_connected reducer if one is declared (spec.md §4.6:
// "On a new session the host calls the client_connected reducer if
// present").
func (m *Manager) Connect(ctx context.Context, identity types.Identity, conn types.ConnectionId, sender Sender) error {
	m.clients.Store(conn, &clientEntry{identity: identity, sender: sender})

	token, err := m.issuer.Issue(identity)
	if err != nil {
		return fmt.Errorf("session: issuing identity token: %w", err)
	}
	if err := sender.Send(conn, ServerMessage{IdentityToken: &IdentityTokenMsg{Identity: identity, Token: token, ConnectionID: conn}}); err != nil {
		return err
	}

	if desc := m.host.Describe(); hasLifecycleReducer(desc, moduledesc.ReducerKindClientConnected) {
		name, _ := lifecycleReducerName(desc, moduledesc.ReducerKindClientConnected)
		if _, err := m.host.CallReducer(ctx, name, identity, conn, bsatn.ProductValue()); err != nil {
			log.Warn().Err(err).Str("conn", conn.String()).Msg("session: client_connected reducer failed")
		}
	}
	return nil
}

// Disconnect fires client_disconnected (best-effort; failure never blocks
// the close) and removes the connection from every registry.
func (m *Manager) Disconnect(ctx context.Context, conn types.ConnectionId) {
	entry, ok := m.clients.Load(conn)
	if !ok {
		return
	}
	m.clients.Delete(conn)
	if desc := m.host.Describe(); hasLifecycleReducer(desc, moduledesc.ReducerKindClientDisconnected) {
		name, _ := lifecycleReducerName(desc, moduledesc.ReducerKindClientDisconnected)
		if _, err := m.host.CallReducer(ctx, name, entry.identity, conn, bsatn.ProductValue()); err != nil {
			log.Warn().Err(err).Str("conn", conn.String()).Msg("session: client_disconnected reducer failed")
		}
	}
	m.engine.Disconnect(conn)
}

func hasLifecycleReducer(desc moduledesc.ModuleDesc, kind moduledesc.ReducerKind) bool {
	_, ok := lifecycleReducerName(desc, kind)
	return ok
}

func lifecycleReducerName(desc moduledesc.ModuleDesc, kind moduledesc.ReducerKind) (string, bool) {
	for _, r := range desc.Reducers {
		if r.Kind == kind {
			return r.Name, true
		}
	}
	return "", false
}

// HandleClientMessage dispatches one inbound ClientMessage to the right
// handler, sending whatever response(s) spec.md §4.6 requires back
// through sender.
func (m *Manager) HandleClientMessage(ctx context.Context, identity types.Identity, conn types.ConnectionId, msg ClientMessage, sender Sender) {
	switch {
	case msg.CallReducer != nil:
		m.handleCallReducer(ctx, identity, conn, msg.CallReducer, sender)
	case msg.Subscribe != nil:
		m.handleSubscribe(conn, msg.Subscribe, sender)
	case msg.Unsubscribe != nil:
		m.engine.Unsubscribe(conn, msg.Unsubscribe.QueryID)
		_ = sender.Send(conn, ServerMessage{UnsubscribeApplied: &UnsubscribeAppliedMsg{QueryID: msg.Unsubscribe.QueryID}})
	case msg.OneOffQuery != nil:
		m.handleOneOffQuery(conn, msg.OneOffQuery, sender)
	}
}

func (m *Manager) handleCallReducer(ctx context.Context, identity types.Identity, conn types.ConnectionId, req *CallReducerMsg, sender Sender) {
	reducerDesc, ok := m.host.Describe().ReducerByName(req.ReducerName)
	if !ok {
		m.sendFailedTransaction(conn, req, fmt.Sprintf("unknown reducer %q", req.ReducerName), sender)
		return
	}
	args, _, err := bsatn.Decode(req.ArgsBytes, reducerDesc.Args)
	if err != nil {
		m.sendFailedTransaction(conn, req, fmt.Sprintf("decoding arguments: %v", err), sender)
		return
	}

	out, err := m.host.CallReducer(ctx, req.ReducerName, identity, conn, args)
	if err != nil {
		m.sendFailedTransaction(conn, req, err.Error(), sender)
		return
	}
	if m.metrics != nil {
		m.metrics.ReducerCalls.WithLabelValues(out.Status.String()).Inc()
		m.metrics.EnergyUsed.Add(float64(out.EnergyUsed))
		if out.Status == hostmodule.ReducerCommitted {
			m.metrics.Commits.Inc()
		}
	}
	if req.Flags == FlagNoSuccessNotify && out.Status == hostmodule.ReducerCommitted {
		return
	}
	_ = sender.Send(conn, ServerMessage{TransactionUpdate: &TransactionUpdateMsg{
		Status:           out.Status.String(),
		CallerIdentity:   identity,
		CallerConnection: conn,
		ReducerName:      req.ReducerName,
		RequestID:        req.RequestID,
		EnergyUsed:       out.EnergyUsed,
		Timestamp:        types.TimestampFromTime(time.Now()),
		Message:          out.Message,
	}})
}

func (m *Manager) sendFailedTransaction(conn types.ConnectionId, req *CallReducerMsg, message string, sender Sender) {
	_ = sender.Send(conn, ServerMessage{TransactionUpdate: &TransactionUpdateMsg{
		Status:      hostmodule.ReducerFailed.String(),
		ReducerName: req.ReducerName,
		RequestID:   req.RequestID,
		Message:     message,
	}})
}

func (m *Manager) handleSubscribe(conn types.ConnectionId, req *SubscribeMsg, sender Sender) {
	var combined []TableRowUpdate
	for _, query := range req.Queries {
		updates, err := m.subscribeOne(conn, query)
		if err != nil {
			_ = sender.Send(conn, ServerMessage{SubscribeError: &SubscribeErrorMsg{RequestID: req.RequestID, Error: err.Error()}})
			return
		}
		combined = append(combined, updates...)
	}
	_ = sender.Send(conn, ServerMessage{InitialSubscription: &InitialSubscriptionMsg{RequestID: req.RequestID, TableUpdates: combined}})
	_ = sender.Send(conn, ServerMessage{SubscribeApplied: &SubscribeAppliedMsg{RequestID: req.RequestID}})
}

// subscribeOne installs one SQL query string as a live subscription,
// returning its applied snapshot as TableRowUpdates. `SELECT * FROM *`
// fans out to every currently-public table (spec.md §4.5's "All-tables
// subscription").
func (m *Manager) subscribeOne(conn types.ConnectionId, query string) ([]TableRowUpdate, error) {
	parsed, err := sql.Parse(query)
	if err != nil {
		return nil, &stdberr.SubscriptionError{Reason: err.Error()}
	}

	if parsed.AllTables {
		var out []TableRowUpdate
		for _, table := range m.host.Database().AllTables() {
			if table.Private() {
				continue
			}
			queryID := query + "#" + table.Name()
			rows, err := m.engine.Subscribe(conn, queryID, table.Name(), subscription.AllRows{})
			if err != nil {
				return nil, err
			}
			out = append(out, rowsToTableUpdate(table.Name(), rows, table.Schema().RowType))
		}
		return out, nil
	}

	table, ok := m.host.Database().TableByName(parsed.TableName)
	if !ok {
		return nil, &stdberr.NotFound{Table: parsed.TableName}
	}
	pred, err := sql.Compile(parsed, table.Schema().RowType)
	if err != nil {
		return nil, &stdberr.SubscriptionError{Reason: err.Error()}
	}
	rows, err := m.engine.Subscribe(conn, query, parsed.TableName, pred)
	if err != nil {
		return nil, err
	}
	return []TableRowUpdate{rowsToTableUpdate(parsed.TableName, rows, table.Schema().RowType)}, nil
}

func rowsToTableUpdate(tableName string, rows []bsatn.AlgebraicValue, rowType bsatn.AlgebraicType) TableRowUpdate {
	tr := TableRowUpdate{TableName: tableName}
	for _, row := range rows {
		b, err := bsatn.Encode(row, rowType)
		if err != nil {
			continue
		}
		tr.Inserts = append(tr.Inserts, b)
	}
	return tr
}

func (m *Manager) handleOneOffQuery(conn types.ConnectionId, req *OneOffQueryMsg, sender Sender) {
	parsed, err := sql.Parse(req.Query)
	if err != nil {
		_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Error: err.Error()}})
		return
	}
	if parsed.AllTables {
		_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Error: "one-off queries must name a single table"}})
		return
	}

	table, ok := m.host.Database().TableByName(parsed.TableName)
	if !ok {
		_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Error: "unknown table"}})
		return
	}
	if table.Private() {
		_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Error: "private table access denied"}})
		return
	}
	pred, err := sql.Compile(parsed, table.Schema().RowType)
	if err != nil {
		_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Error: err.Error()}})
		return
	}

	db := m.host.Database()
	tx := db.Begin()
	rows := table.Iter(tx)
	tx.Rollback()

	var out [][]byte
	for _, row := range rows {
		if !pred.Eval(row) {
			continue
		}
		b, err := bsatn.Encode(row, table.Schema().RowType)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	_ = sender.Send(conn, ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: req.RequestID, Rows: out}})
}
