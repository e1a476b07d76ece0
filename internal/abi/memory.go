// Package abi implements the host ABI of spec.md §4.3: the narrow set of
// imports a sandboxed WASM module calls into the host with, and the linear
// memory access pattern underneath them. It generalizes the teacher's
// internal/wasm package (a single Runtime mixing module loading, a
// byte-buffer registry, and ad hoc fmt.Printf debug traces) into a
// host-capability surface wired to internal/storage instead of an
// in-memory TableImpl map.
package abi

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// ErrOutOfBounds is returned when a module passes a pointer/length pair
// that does not fit the instance's current linear memory.
type ErrOutOfBounds struct {
	Ptr, Len uint32
	MemSize  uint32
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("abi: out of bounds access ptr=%d len=%d mem_size=%d", e.Ptr, e.Len, e.MemSize)
}

// ReadMemory bounds-checks and reads a byte range out of a module's linear
// memory, never returning a partial read (mirrors the teacher's
// Runtime.ReadFromMemory but without the package-wide mutex, since each ABI
// call already runs under the single active transaction's writer lock).
// Exported so internal/hostmodule can use the same bounds-checked access
// when marshalling arguments into the module's own exported entry points.
func ReadMemory(mem api.Memory, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if ptr+length < ptr || ptr+length > mem.Size() {
		return nil, &ErrOutOfBounds{Ptr: ptr, Len: length, MemSize: mem.Size()}
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, &ErrOutOfBounds{Ptr: ptr, Len: length, MemSize: mem.Size()}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteMemory bounds-checks and writes data into a module-supplied buffer
// of capacity cap at ptr. Returns how many bytes were written (<=len(data))
// so callers can implement the "insufficient buffer" status used by
// iterator-advance style calls.
func WriteMemory(mem api.Memory, ptr uint32, data []byte, capacity uint32) (uint32, error) {
	n := uint32(len(data))
	if n > capacity {
		n = capacity
	}
	if n == 0 {
		return 0, nil
	}
	if ptr+n < ptr || ptr+n > mem.Size() {
		return 0, &ErrOutOfBounds{Ptr: ptr, Len: n, MemSize: mem.Size()}
	}
	if !mem.Write(ptr, data[:n]) {
		return 0, &ErrOutOfBounds{Ptr: ptr, Len: n, MemSize: mem.Size()}
	}
	return n, nil
}

// ReadU32 reads a little-endian u32 out of memory.
func ReadU32(mem api.Memory, ptr uint32) (uint32, error) {
	v, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return 0, &ErrOutOfBounds{Ptr: ptr, Len: 4, MemSize: mem.Size()}
	}
	return v, nil
}

// WriteU32 writes a little-endian u32 into memory.
func WriteU32(mem api.Memory, ptr, v uint32) error {
	if !mem.WriteUint32Le(ptr, v) {
		return &ErrOutOfBounds{Ptr: ptr, Len: 4, MemSize: mem.Size()}
	}
	return nil
}
