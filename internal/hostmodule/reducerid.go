package hostmodule

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/clockworklabs/stdb-core/internal/moduledesc"
)

// assignReducerIDs gives every reducer in desc a stable numeric id in
// declaration order, starting at 1 (0 is reserved, matching the teacher's
// ReducerRegistry convention of starting IDs from 1 and never handing out
// 0). __call_reducer__ addresses reducers by this id rather than by name.
func assignReducerIDs(desc moduledesc.ModuleDesc) (byName map[string]uint32, byID map[uint32]moduledesc.ReducerDesc) {
	byName = make(map[string]uint32, len(desc.Reducers))
	byID = make(map[uint32]moduledesc.ReducerDesc, len(desc.Reducers))
	for i, r := range desc.Reducers {
		id := uint32(i + 1)
		byName[r.Name] = id
		byID[id] = r
	}
	return byName, byID
}

// reducerRNGSeed derives the deterministic per-call RNG seed spec.md §4.4
// requires: "RNG seeded deterministically from (transaction_id,
// reducer_id)". FNV-1a gives a cheap, allocation-free, order-sensitive mix
// of the two counters without pulling in a dedicated hashing dependency for
// what is, on the wire, just a u64 seed value.
func reducerRNGSeed(transactionID uint64, reducerID uint32) uint64 {
	h := fnv.New64a()
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], transactionID)
	binary.LittleEndian.PutUint32(buf[8:12], reducerID)
	h.Write(buf[:])
	return h.Sum64()
}
