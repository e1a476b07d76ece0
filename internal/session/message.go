package session

import (
	"encoding/binary"
	"fmt"

	"github.com/clockworklabs/stdb-core/internal/types"
)

// CallFlags are the flags a CallReducer client message may set (spec.md
// §4.6).
type CallFlags uint8

const (
	FlagFullUpdate      CallFlags = 0
	FlagNoSuccessNotify CallFlags = 1
)

// clientTag/serverTag name the sum-type variant each ClientMessage/
// ServerMessage frame carries, following the same tagged-union convention
// bsatn.AlgebraicValue uses for Sum values.
type clientTag uint8

const (
	clientTagCallReducer clientTag = iota
	clientTagSubscribe
	clientTagUnsubscribe
	clientTagOneOffQuery
)

type serverTag uint8

const (
	serverTagIdentityToken serverTag = iota
	serverTagInitialSubscription
	serverTagTransactionUpdate
	serverTagTransactionUpdateLight
	serverTagOneOffQueryResponse
	serverTagSubscribeApplied
	serverTagSubscribeError
	serverTagUnsubscribeApplied
)

// ClientMessage is one frame sent from a client to the server. Exactly one
// field is populated.
type ClientMessage struct {
	CallReducer  *CallReducerMsg
	Subscribe    *SubscribeMsg
	Unsubscribe  *UnsubscribeMsg
	OneOffQuery  *OneOffQueryMsg
}

type CallReducerMsg struct {
	ReducerName string
	ArgsBytes   []byte
	RequestID   uint32
	Flags       CallFlags
}

type SubscribeMsg struct {
	Queries   []string
	RequestID uint32
}

type UnsubscribeMsg struct {
	QueryID string
}

type OneOffQueryMsg struct {
	Query     string
	RequestID uint32
}

// ServerMessage is one frame sent from the server to a client.
type ServerMessage struct {
	IdentityToken           *IdentityTokenMsg
	InitialSubscription     *InitialSubscriptionMsg
	TransactionUpdate       *TransactionUpdateMsg
	TransactionUpdateLight  *TransactionUpdateLightMsg
	OneOffQueryResponse     *OneOffQueryResponseMsg
	SubscribeApplied        *SubscribeAppliedMsg
	SubscribeError          *SubscribeErrorMsg
	UnsubscribeApplied      *UnsubscribeAppliedMsg
}

type IdentityTokenMsg struct {
	Identity     types.Identity
	Token        string
	ConnectionID types.ConnectionId
}

// TableRowUpdate is one table's inserts/deletes within a TableUpdate
// (spec.md §4.6's "TableUpdate wire format", flattened: this
// implementation always supplies row boundaries rather than relying on
// typed re-decoding, so BsatnRowList.offsets is implicit — every row is
// independently length-prefixed).
type TableRowUpdate struct {
	TableName string
	Inserts   [][]byte // each already-BSATN-encoded row
	Deletes   [][]byte
}

type InitialSubscriptionMsg struct {
	RequestID    uint32
	TableUpdates []TableRowUpdate
}

type TransactionUpdateMsg struct {
	TableUpdates     []TableRowUpdate
	Status           string // "Committed" | "Failed" | "OutOfEnergy" (hostmodule.ReducerStatus.String)
	CallerIdentity   types.Identity
	CallerConnection types.ConnectionId
	ReducerName      string
	RequestID        uint32
	EnergyUsed       int64
	Timestamp        types.Timestamp
	Message          string
}

// TransactionUpdateLightMsg omits the caller/reducer metadata, sent to
// subscribers who didn't call the reducer themselves (spec.md §4.6).
type TransactionUpdateLightMsg struct {
	TableUpdates []TableRowUpdate
}

type OneOffQueryResponseMsg struct {
	RequestID uint32
	Rows      [][]byte
	Error     string
}

type SubscribeAppliedMsg struct {
	RequestID uint32
	QueryID   string
}

type SubscribeErrorMsg struct {
	RequestID uint32
	Error     string
}

type UnsubscribeAppliedMsg struct {
	QueryID string
}

// wire framing: a small length-prefixed little-endian codec of our own,
// the same choice internal/moduledesc makes for its non-BSATN-typed wire
// format, since these are fixed protocol envelopes rather than BSATN
// values of a declared AlgebraicType.
type msgWriter struct{ b []byte }

func (w *msgWriter) u8(v uint8)   { w.b = append(w.b, v) }
func (w *msgWriter) raw(b []byte) { w.b = append(w.b, b...) }
func (w *msgWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *msgWriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *msgWriter) i64(v int64) { w.u64(uint64(v)) }
func (w *msgWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}
func (w *msgWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.b = append(w.b, b...)
}
func (w *msgWriter) byteList(bs [][]byte) {
	w.u32(uint32(len(bs)))
	for _, b := range bs {
		w.bytes(b)
	}
}
func (w *msgWriter) strList(ss []string) {
	w.u32(uint32(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}
func (w *msgWriter) tableUpdates(ts []TableRowUpdate) {
	w.u32(uint32(len(ts)))
	for _, t := range ts {
		w.str(t.TableName)
		w.byteList(t.Inserts)
		w.byteList(t.Deletes)
	}
}

type msgReader struct {
	b   []byte
	pos int
}

func (r *msgReader) need(n int) error {
	if n < 0 || len(r.b)-r.pos < n {
		return fmt.Errorf("session: truncated frame")
	}
	return nil
}
func (r *msgReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}
func (r *msgReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}
func (r *msgReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}
func (r *msgReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}
func (r *msgReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
func (r *msgReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}
func (r *msgReader) byteList() ([][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
func (r *msgReader) strList() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
func (r *msgReader) tableUpdates() ([]TableRowUpdate, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]TableRowUpdate, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		inserts, err := r.byteList()
		if err != nil {
			return nil, err
		}
		deletes, err := r.byteList()
		if err != nil {
			return nil, err
		}
		out = append(out, TableRowUpdate{TableName: name, Inserts: inserts, Deletes: deletes})
	}
	return out, nil
}

// EncodeClientMessage serializes one client->server frame (tag byte then
// payload), used by test harnesses and any Go-native client.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	w := &msgWriter{}
	switch {
	case m.CallReducer != nil:
		w.u8(uint8(clientTagCallReducer))
		w.str(m.CallReducer.ReducerName)
		w.bytes(m.CallReducer.ArgsBytes)
		w.u32(m.CallReducer.RequestID)
		w.u8(uint8(m.CallReducer.Flags))
	case m.Subscribe != nil:
		w.u8(uint8(clientTagSubscribe))
		w.strList(m.Subscribe.Queries)
		w.u32(m.Subscribe.RequestID)
	case m.Unsubscribe != nil:
		w.u8(uint8(clientTagUnsubscribe))
		w.str(m.Unsubscribe.QueryID)
	case m.OneOffQuery != nil:
		w.u8(uint8(clientTagOneOffQuery))
		w.str(m.OneOffQuery.Query)
		w.u32(m.OneOffQuery.RequestID)
	default:
		return nil, fmt.Errorf("session: empty ClientMessage")
	}
	return w.b, nil
}

// DecodeClientMessage is the inverse of EncodeClientMessage.
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	r := &msgReader{b: b}
	tag, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}
	switch clientTag(tag) {
	case clientTagCallReducer:
		name, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		args, err := r.bytes()
		if err != nil {
			return ClientMessage{}, err
		}
		reqID, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		flags, err := r.u8()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{CallReducer: &CallReducerMsg{ReducerName: name, ArgsBytes: args, RequestID: reqID, Flags: CallFlags(flags)}}, nil
	case clientTagSubscribe:
		queries, err := r.strList()
		if err != nil {
			return ClientMessage{}, err
		}
		reqID, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Subscribe: &SubscribeMsg{Queries: queries, RequestID: reqID}}, nil
	case clientTagUnsubscribe:
		id, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Unsubscribe: &UnsubscribeMsg{QueryID: id}}, nil
	case clientTagOneOffQuery:
		q, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		reqID, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{OneOffQuery: &OneOffQueryMsg{Query: q, RequestID: reqID}}, nil
	default:
		return ClientMessage{}, fmt.Errorf("session: unknown client message tag %d", tag)
	}
}

// EncodeServerMessage serializes one server->client frame.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	w := &msgWriter{}
	switch {
	case m.IdentityToken != nil:
		w.u8(uint8(serverTagIdentityToken))
		w.raw(m.IdentityToken.Identity[:])
		w.str(m.IdentityToken.Token)
		w.raw(m.IdentityToken.ConnectionID[:])
	case m.InitialSubscription != nil:
		w.u8(uint8(serverTagInitialSubscription))
		w.u32(m.InitialSubscription.RequestID)
		w.tableUpdates(m.InitialSubscription.TableUpdates)
	case m.TransactionUpdate != nil:
		tu := m.TransactionUpdate
		w.u8(uint8(serverTagTransactionUpdate))
		w.tableUpdates(tu.TableUpdates)
		w.str(tu.Status)
		w.raw(tu.CallerIdentity[:])
		w.raw(tu.CallerConnection[:])
		w.str(tu.ReducerName)
		w.u32(tu.RequestID)
		w.i64(tu.EnergyUsed)
		w.u64(tu.Timestamp.Microseconds)
		w.str(tu.Message)
	case m.TransactionUpdateLight != nil:
		w.u8(uint8(serverTagTransactionUpdateLight))
		w.tableUpdates(m.TransactionUpdateLight.TableUpdates)
	case m.OneOffQueryResponse != nil:
		r := m.OneOffQueryResponse
		w.u8(uint8(serverTagOneOffQueryResponse))
		w.u32(r.RequestID)
		w.byteList(r.Rows)
		w.str(r.Error)
	case m.SubscribeApplied != nil:
		w.u8(uint8(serverTagSubscribeApplied))
		w.u32(m.SubscribeApplied.RequestID)
		w.str(m.SubscribeApplied.QueryID)
	case m.SubscribeError != nil:
		w.u8(uint8(serverTagSubscribeError))
		w.u32(m.SubscribeError.RequestID)
		w.str(m.SubscribeError.Error)
	case m.UnsubscribeApplied != nil:
		w.u8(uint8(serverTagUnsubscribeApplied))
		w.str(m.UnsubscribeApplied.QueryID)
	default:
		return nil, fmt.Errorf("session: empty ServerMessage")
	}
	return w.b, nil
}

// DecodeServerMessage is the inverse of EncodeServerMessage, used by test
// harnesses acting as a client.
func DecodeServerMessage(b []byte) (ServerMessage, error) {
	r := &msgReader{b: b}
	tag, err := r.u8()
	if err != nil {
		return ServerMessage{}, err
	}
	switch serverTag(tag) {
	case serverTagIdentityToken:
		var id types.Identity
		var conn types.ConnectionId
		if err := r.need(32); err != nil {
			return ServerMessage{}, err
		}
		copy(id[:], r.b[r.pos:r.pos+32])
		r.pos += 32
		token, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		if err := r.need(16); err != nil {
			return ServerMessage{}, err
		}
		copy(conn[:], r.b[r.pos:r.pos+16])
		r.pos += 16
		return ServerMessage{IdentityToken: &IdentityTokenMsg{Identity: id, Token: token, ConnectionID: conn}}, nil
	case serverTagInitialSubscription:
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		tu, err := r.tableUpdates()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{InitialSubscription: &InitialSubscriptionMsg{RequestID: reqID, TableUpdates: tu}}, nil
	case serverTagTransactionUpdate:
		tu, err := r.tableUpdates()
		if err != nil {
			return ServerMessage{}, err
		}
		status, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		var callerID types.Identity
		var callerConn types.ConnectionId
		if err := r.need(32); err != nil {
			return ServerMessage{}, err
		}
		copy(callerID[:], r.b[r.pos:r.pos+32])
		r.pos += 32
		if err := r.need(16); err != nil {
			return ServerMessage{}, err
		}
		copy(callerConn[:], r.b[r.pos:r.pos+16])
		r.pos += 16
		name, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		energy, err := r.i64()
		if err != nil {
			return ServerMessage{}, err
		}
		ts, err := r.u64()
		if err != nil {
			return ServerMessage{}, err
		}
		msg, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{TransactionUpdate: &TransactionUpdateMsg{
			TableUpdates: tu, Status: status, CallerIdentity: callerID, CallerConnection: callerConn,
			ReducerName: name, RequestID: reqID, EnergyUsed: energy,
			Timestamp: types.Timestamp{Microseconds: ts}, Message: msg,
		}}, nil
	case serverTagTransactionUpdateLight:
		tu, err := r.tableUpdates()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{TransactionUpdateLight: &TransactionUpdateLightMsg{TableUpdates: tu}}, nil
	case serverTagOneOffQueryResponse:
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		rows, err := r.byteList()
		if err != nil {
			return ServerMessage{}, err
		}
		errStr, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{OneOffQueryResponse: &OneOffQueryResponseMsg{RequestID: reqID, Rows: rows, Error: errStr}}, nil
	case serverTagSubscribeApplied:
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		qid, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{SubscribeApplied: &SubscribeAppliedMsg{RequestID: reqID, QueryID: qid}}, nil
	case serverTagSubscribeError:
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		errStr, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{SubscribeError: &SubscribeErrorMsg{RequestID: reqID, Error: errStr}}, nil
	case serverTagUnsubscribeApplied:
		qid, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{UnsubscribeApplied: &UnsubscribeAppliedMsg{QueryID: qid}}, nil
	default:
		return ServerMessage{}, fmt.Errorf("session: unknown server message tag %d", tag)
	}
}
