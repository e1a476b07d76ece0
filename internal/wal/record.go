package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/clockworklabs/stdb-core/internal/types"
)

// OpKind distinguishes an insert from a delete within one commit record.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpDelete
)

// Op is one row-level effect of a committed transaction, carrying its row
// already BSATN-encoded against the table's schema at commit time.
type Op struct {
	Kind      OpKind
	TableName string
	RowBytes  []byte
}

// Record is one committed transaction's entry in the log (spec.md §4.7):
// caller/reducer metadata for observability plus the row operations replay
// actually needs. Reducer args travel along so a future audit or debugging
// tool can reconstruct "what call produced this commit" without re-running
// it; replay itself only ever looks at Ops.
type Record struct {
	CommitID         uint64
	SchemaVersion    uint32
	Timestamp        types.Timestamp
	CallerIdentity   types.Identity
	CallerConnection types.ConnectionId
	ReducerID        uint32
	ReducerName      string
	ArgsBytes        []byte
	Ops              []Op
}

// rawWriter/rawReader follow the same little-endian, length-prefixed
// convention as internal/moduledesc's wire codec and internal/session's
// msgWriter/msgReader: every string and byte slice is u32-count-prefixed,
// fixed-size values (Identity, ConnectionId) are written raw.
type rawWriter struct{ b []byte }

func (w *rawWriter) u8(v uint8)   { w.b = append(w.b, v) }
func (w *rawWriter) raw(b []byte) { w.b = append(w.b, b...) }
func (w *rawWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *rawWriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *rawWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}
func (w *rawWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.b = append(w.b, b...)
}

type rawReader struct {
	b   []byte
	pos int
}

func (r *rawReader) need(n int) error {
	if n < 0 || len(r.b)-r.pos < n {
		return fmt.Errorf("wal: truncated record")
	}
	return nil
}

func (r *rawReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *rawReader) fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *rawReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *rawReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *rawReader) str() (string, error) {
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

func (r *rawReader) bytes() ([]byte, error) {
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

func encodeRecord(rec Record) []byte {
	w := &rawWriter{}
	w.u64(rec.CommitID)
	w.u32(rec.SchemaVersion)
	w.u64(rec.Timestamp.Microseconds)
	w.raw(rec.CallerIdentity[:])
	w.raw(rec.CallerConnection[:])
	w.u32(rec.ReducerID)
	w.str(rec.ReducerName)
	w.bytes(rec.ArgsBytes)
	w.u32(uint32(len(rec.Ops)))
	for _, op := range rec.Ops {
		w.u8(uint8(op.Kind))
		w.str(op.TableName)
		w.bytes(op.RowBytes)
	}
	return w.b
}

func decodeRecord(b []byte) (Record, error) {
	r := &rawReader{b: b}
	var rec Record
	var err error

	if rec.CommitID, err = r.u64(); err != nil {
		return rec, err
	}
	if rec.SchemaVersion, err = r.u32(); err != nil {
		return rec, err
	}
	ts, err := r.u64()
	if err != nil {
		return rec, err
	}
	rec.Timestamp = types.Timestamp{Microseconds: ts}

	identity, err := r.fixed(len(rec.CallerIdentity))
	if err != nil {
		return rec, err
	}
	copy(rec.CallerIdentity[:], identity)

	conn, err := r.fixed(len(rec.CallerConnection))
	if err != nil {
		return rec, err
	}
	copy(rec.CallerConnection[:], conn)

	if rec.ReducerID, err = r.u32(); err != nil {
		return rec, err
	}
	if rec.ReducerName, err = r.str(); err != nil {
		return rec, err
	}
	if rec.ArgsBytes, err = r.bytes(); err != nil {
		return rec, err
	}

	opCount, err := r.u32()
	if err != nil {
		return rec, err
	}
	rec.Ops = make([]Op, opCount)
	for i := range rec.Ops {
		kind, err := r.u8()
		if err != nil {
			return rec, err
		}
		rec.Ops[i].Kind = OpKind(kind)
		if rec.Ops[i].TableName, err = r.str(); err != nil {
			return rec, err
		}
		if rec.Ops[i].RowBytes, err = r.bytes(); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
