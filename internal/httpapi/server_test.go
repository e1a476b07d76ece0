package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/metrics"
	"github.com/clockworklabs/stdb-core/internal/session"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *hostmodule.Host) {
	t.Helper()
	host, err := hostmodule.NewHost(context.Background(), hostmodule.DefaultConfig(), types.Identity{})
	require.NoError(t, err)
	mgr := session.NewManager(host, session.NewTokenIssuer([]byte("secret"), 0))
	issuer := session.NewTokenIssuer([]byte("secret"), time.Hour)
	return New(host, mgr, issuer, metrics.New()), host
}

func registerPlayerTable(t *testing.T, db *storage.Database) *storage.Table {
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
	return db.RegisterTable(schema)
}

func TestMintIdentityAndExchangeWebsocketToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/identity", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var identity identityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&identity))
	assert.NotEmpty(t, identity.Identity)
	assert.NotEmpty(t, identity.Token)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/identity/websocket_token", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+identity.Token)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var wsTok websocketTokenResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&wsTok))
	assert.NotEmpty(t, wsTok.Token)
}

func TestWebsocketTokenExchangeRejectsMissingBearer(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/identity/websocket_token", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSchemaEndpointReturnsEmptyModuleBeforePublish(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/database/mydb/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc schemaDoc
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Empty(t, doc.Tables)
	assert.Empty(t, doc.Reducers)
}

func TestCallReducerOnUnknownReducerReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/database/mydb/call/does_not_exist", "application/octet-stream", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSQLEndpointQueriesRegisteredTable(t *testing.T) {
	srv, host := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	table := registerPlayerTable(t, host.Database())
	tx := host.Database().Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), bsatn.StringValue("alice")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	body, err := json.Marshal(sqlRequest{Query: "SELECT * FROM player"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/database/mydb/sql", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []sqlRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
}

func TestSQLEndpointRejectsPrivateTable(t *testing.T) {
	srv, host := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	rowType := bsatn.Product(bsatn.NamedType{Name: "id", Type: bsatn.U64()})
	schema, err := storage.NewTableSchema(types.TableID(2), "secret", rowType, []storage.ColumnConstraint{{Name: "id", PrimaryKey: true, Unique: true}}, true, nil)
	require.NoError(t, err)
	host.Database().RegisterTable(schema)

	body, err := json.Marshal(sqlRequest{Query: "SELECT * FROM secret"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/database/mydb/sql", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPublishRejectsInvalidWasm(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/database", "application/wasm", strings.NewReader("not wasm"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
