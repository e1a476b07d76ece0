// Package session implements the client session protocol of spec.md §4.6:
// websocket transport, ClientMessage/ServerMessage framing, the
// compression tag byte, identity tokens, and the connect/disconnect
// reducer lifecycle. It has no direct teacher file to generalize (the
// bindings crate is module-side tooling, never a server), so its
// compression path is grounded on the teacher's own
// internal/db/encoding.go GzipCompressor (a level-parameterized
// compress/gzip wrapper) and its transport/identity libraries on the
// teacher's sibling Go SDK module's declared dependencies.
package session

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionTag is the first byte of every data frame, naming how the
// remaining bytes are encoded (spec.md §4.6).
type CompressionTag byte

const (
	CompressionNone   CompressionTag = 0x00
	CompressionBrotli CompressionTag = 0x01 // reserved; clients may reject it
	CompressionGzip   CompressionTag = 0x02
)

// gzipLevel mirrors the teacher's GzipCompressor's configurable level,
// fixed here since the protocol does not negotiate one per-connection.
const gzipLevel = gzip.DefaultCompression

func compressFrame(tag CompressionTag, payload []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return append([]byte{byte(CompressionNone)}, payload...), nil
	case CompressionGzip:
		var buf bytes.Buffer
		buf.WriteByte(byte(CompressionGzip))
		w, err := gzip.NewWriterLevel(&buf, gzipLevel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("session: unsupported outbound compression tag %#x", tag)
	}
}

func decompressFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("session: empty frame")
	}
	tag := CompressionTag(frame[0])
	body := frame[1:]
	switch tag {
	case CompressionNone:
		return body, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionBrotli:
		// Reserved for server->client frames (spec.md §4.6: "clients may
		// reject it"), but the host still decodes it on inbound frames so
		// a future brotli-speaking SDK client is not rejected outright.
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("session: unknown compression tag %#x", tag)
	}
}
