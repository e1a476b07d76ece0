package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// Subprotocol is the websocket subprotocol identifier spec.md §6.3 names.
const Subprotocol = "v1.bsatn.spacetimedb"

// Server upgrades incoming HTTP requests to websocket sessions and runs
// each connection's read loop against a Manager. internal/httpapi mounts
// ServeHTTP at the SDK's websocket endpoint.
type Server struct {
	manager *Manager
	issuer  *TokenIssuer
}

func NewServer(manager *Manager, issuer *TokenIssuer) *Server {
	return &Server{manager: manager, issuer: issuer}
}

// ServeHTTP implements the websocket half of spec.md §4.6's transport:
// authenticate (if a token is presented), accept the upgrade, register
// the session, then read frames until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		log.Warn().Err(err).Msg("session: websocket accept failed")
		return
	}

	connID, err := NewConnectionID()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "failed to allocate connection id")
		return
	}

	wsConn := &wsConnection{conn: conn}
	ctx := r.Context()

	if err := s.manager.Connect(ctx, identity, connID, wsConn); err != nil {
		log.Warn().Err(err).Msg("session: connect failed")
		conn.Close(websocket.StatusInternalError, "connect failed")
		return
	}
	defer s.manager.Disconnect(context.Background(), connID)

	s.readLoop(ctx, identity, connID, conn, wsConn)
}

func (s *Server) authenticate(r *http.Request) (types.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return NewIdentity()
	}
	return s.issuer.Verify(token)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return r.URL.Query().Get("token")
}

func (s *Server) readLoop(ctx context.Context, identity types.Identity, connID types.ConnectionId, conn *websocket.Conn, sender Sender) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		payload, err := decompressFrame(frame)
		if err != nil {
			log.Warn().Err(err).Str("conn", connID.String()).Msg("session: decompressing inbound frame failed")
			continue
		}
		msg, err := DecodeClientMessage(payload)
		if err != nil {
			log.Warn().Err(err).Str("conn", connID.String()).Msg("session: decoding client message failed")
			continue
		}
		s.manager.HandleClientMessage(ctx, identity, connID, msg, sender)
	}
}

// wsConnection adapts a coder/websocket.Conn to the Sender interface,
// tagging every outbound frame with the uncompressed compression byte
// (spec.md §4.6 reserves gzip for when the server "chooses to compress",
// which this host never does: every outbound frame is uncompressed).
type wsConnection struct {
	conn *websocket.Conn
}

func (c *wsConnection) Send(_ types.ConnectionId, msg ServerMessage) error {
	payload, err := EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	frame, err := compressFrame(CompressionNone, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageBinary, frame)
}
