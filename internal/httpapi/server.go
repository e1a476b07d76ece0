// Package httpapi implements the admin/auxiliary HTTP surface of spec.md
// §6.2 on top of net/http's ServeMux pattern routing: identity minting
// and token exchange, schema introspection, HTTP-framed reducer calls,
// one-off SQL, and publish. It generalizes the teacher's lighter
// net/http-based services (the pack favors stdlib routing over a
// third-party mux for admin endpoints) rather than pulling in a router
// dependency no example repo leans on for this shape of API.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/metrics"
	"github.com/clockworklabs/stdb-core/internal/session"
	"github.com/clockworklabs/stdb-core/internal/sql"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/rs/zerolog/log"
)

// Server wires the host, session manager, token issuer, and websocket
// upgrader behind a single http.Handler.
type Server struct {
	host    *hostmodule.Host
	manager *session.Manager
	issuer  *session.TokenIssuer
	ws      *session.Server
	metrics *metrics.Metrics

	mux *http.ServeMux
}

// New builds the HTTP surface. metrics may be nil, in which case GET
// /metrics responds 404 rather than being mounted.
func New(host *hostmodule.Host, manager *session.Manager, issuer *session.TokenIssuer, m *metrics.Metrics) *Server {
	s := &Server{
		host:    host,
		manager: manager,
		issuer:  issuer,
		ws:      session.NewServer(manager, issuer),
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /identity", s.handleMintIdentity)
	s.mux.HandleFunc("POST /identity/websocket_token", s.handleWebsocketToken)
	s.mux.HandleFunc("GET /database/{name}/schema", s.handleSchema)
	s.mux.HandleFunc("POST /database/{name}/call/{reducer}", s.handleCallReducer)
	s.mux.HandleFunc("POST /database/{name}/sql", s.handleSQL)
	s.mux.HandleFunc("POST /database", s.handlePublish)
	s.mux.Handle("GET /v1/ws", s.ws)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

type identityResponse struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

// handleMintIdentity implements "POST /identity — mint a fresh identity +
// token" (spec.md §6.2).
func (s *Server) handleMintIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := session.NewIdentity()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	token, err := s.issuer.Issue(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{Identity: identity.String(), Token: token})
}

type websocketTokenResponse struct {
	Token string `json:"token"`
}

// handleWebsocketToken implements "POST /identity/websocket_token —
// exchange a bearer token for a short-lived websocket token": re-verifies
// the presented bearer token and reissues a fresh one under the issuer's
// own TTL, so a long-lived HTTP session token is never itself placed on
// the wire as a websocket query parameter.
func (s *Server) handleWebsocketToken(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, &stdberr.AuthError{Reason: "missing bearer token"})
		return
	}
	identity, err := s.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	fresh, err := s.issuer.Issue(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, websocketTokenResponse{Token: fresh})
}

// handleSchema implements "GET /database/<name>/schema — the module
// description." The database name in the path is accepted but unused:
// this host process always serves exactly one database, matching
// internal/hostmodule.Host's single-Database field.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, describeSchema(s.host.Describe()))
}

// handleCallReducer implements "POST /database/<name>/call/<reducer> —
// HTTP-framed reducer call." The request body is the reducer's argument
// tuple BSATN-encoded exactly as it would be framed inside a websocket
// CallReducerMsg (spec.md §4.1/§6.1 binary encoding is unchanged across
// transports); the response body is the outcome status as a JSON object,
// since an HTTP caller has no open subscription to receive row updates
// through and only needs to know whether the call committed.
func (s *Server) handleCallReducer(w http.ResponseWriter, r *http.Request) {
	reducerName := r.PathValue("reducer")
	reducer, ok := s.host.Describe().ReducerByName(reducerName)
	if !ok {
		writeError(w, http.StatusNotFound, &stdberr.NotFound{Table: reducerName})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	args, _, err := bsatn.Decode(body, reducer.Args)
	if err != nil {
		writeError(w, http.StatusBadRequest, &stdberr.TypeMismatch{Reason: err.Error()})
		return
	}

	identity, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	conn, err := session.NewConnectionID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	out, err := s.host.CallReducer(ctx, reducerName, identity, conn, args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ReducerCalls.WithLabelValues(out.Status.String()).Inc()
		s.metrics.EnergyUsed.Add(float64(out.EnergyUsed))
		if out.Status == hostmodule.ReducerCommitted {
			s.metrics.Commits.Inc()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      out.Status.String(),
		"message":     out.Message,
		"energy_used": out.EnergyUsed,
	})
}

type sqlRequest struct {
	Query string `json:"query"`
}

type sqlRow struct {
	Row string `json:"row"` // hex-encoded BSATN row bytes
}

// handleSQL implements "POST /database/<name>/sql — one-off SQL query",
// evaluated the same way internal/session.Manager.handleOneOffQuery does
// for a websocket OneOffQueryMsg, against a fresh read snapshot.
func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	parsed, err := sql.Parse(req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, &stdberr.SubscriptionError{Reason: err.Error()})
		return
	}
	if parsed.AllTables {
		writeError(w, http.StatusBadRequest, &stdberr.SubscriptionError{Reason: "one-off queries must name a single table"})
		return
	}

	db := s.host.Database()
	table, ok := db.TableByName(parsed.TableName)
	if !ok {
		writeError(w, http.StatusNotFound, &stdberr.NotFound{Table: parsed.TableName})
		return
	}
	if table.Private() {
		writeError(w, http.StatusForbidden, &stdberr.PrivateTableAccess{Table: parsed.TableName})
		return
	}
	pred, err := sql.Compile(parsed, table.Schema().RowType)
	if err != nil {
		writeError(w, http.StatusBadRequest, &stdberr.SubscriptionError{Reason: err.Error()})
		return
	}

	tx := db.Begin()
	rows := table.Iter(tx)
	tx.Rollback()

	out := make([]sqlRow, 0, len(rows))
	for _, row := range rows {
		if !pred.Eval(row) {
			continue
		}
		b, err := bsatn.Encode(row, table.Schema().RowType)
		if err != nil {
			continue
		}
		out = append(out, sqlRow{Row: hex.EncodeToString(b)})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePublish implements "POST /database — publish a module; flags
// include clear-database." The request body is the module's raw WASM
// bytes; `?clear-database=true` wipes existing data before publishing,
// matching spec.md §4.4's migration rule.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	clearDatabase := r.URL.Query().Get("clear-database") == "true"

	wasmBytes, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.host.Publish(ctx, wasmBytes, clearDatabase); err != nil {
		status := http.StatusInternalServerError
		var mismatch *stdberr.SchemaMismatch
		if errors.As(err, &mismatch) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	log.Info().Int("wasm_bytes", len(wasmBytes)).Bool("clear_database", clearDatabase).Msg("httpapi: published module")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) authenticate(r *http.Request) (types.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return session.NewIdentity()
	}
	return s.issuer.Verify(token)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
