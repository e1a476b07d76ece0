package bsatn

import (
	"bytes"
	"encoding/binary"
)

// writer accumulates encoded bytes. It mirrors the teacher's Writer-wraps-
// io.Writer-with-first-error idiom, simplified: BSATN carries no
// self-describing tags for primitives, so every method here just appends
// little-endian bytes.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) Bytes() []byte { return w.buf.Bytes() }

func (w *writer) u8(v uint8)  { w.buf.WriteByte(v) }
func (w *writer) bytes(b []byte) { w.buf.Write(b) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
