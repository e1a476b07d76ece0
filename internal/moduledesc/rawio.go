package moduledesc

import (
	"encoding/binary"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// rawWriter/rawReader give the wire format its own tiny little-endian
// codec rather than reusing bsatn's unexported writer/reader, since module
// descriptions are a host-internal wire format layered on top of BSATN
// type encoding (bsatn.EncodeType), not a BSATN value of any declared type.
type rawWriter struct {
	bytes []byte
}

func newRawWriter() *rawWriter { return &rawWriter{} }

func (w *rawWriter) u8(v uint8)     { w.bytes = append(w.bytes, v) }
func (w *rawWriter) boolean(v bool) { if v { w.u8(1) } else { w.u8(0) } }
func (w *rawWriter) raw(b []byte)   { w.bytes = append(w.bytes, b...) }

func (w *rawWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.bytes = append(w.bytes, b[:]...)
}

func (w *rawWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.bytes = append(w.bytes, s...)
}

type rawReader struct {
	buf []byte
	pos int
}

func (r *rawReader) need(n int) error {
	if n < 0 || len(r.buf)-r.pos < n {
		return &bsatn.ErrTypeMismatch{Reason: "moduledesc: unexpected end of descriptor bytes"}
	}
	return nil
}

func (r *rawReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *rawReader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *rawReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
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
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
