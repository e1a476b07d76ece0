package storage

import "sync/atomic"

// Sequence is a monotonic generator backing one auto-increment column.
//
// Reserve-on-attempt: Next burns a value on every insert attempt, including
// ones that subsequently fail a unique/PK check and roll back. This matches
// the teacher's runtime.Runtime counters (which never rewind on error) and
// is the documented resolution of spec.md's open question on whether a
// rolled-back insert gives its sequence value back. See DESIGN.md.
type Sequence struct {
	next uint64
}

// NewSequence starts numbering at 1; 0 is reserved to mean "unset" so a
// caller can distinguish an explicit zero value from "let storage fill it".
func NewSequence() *Sequence {
	return &Sequence{next: 1}
}

// Next reserves and returns the next value. Never rewound, even if the
// transaction that reserved it later rolls back.
func (s *Sequence) Next() uint64 {
	return atomic.AddUint64(&s.next, 1) - 1
}

// Observe advances the sequence past v if v was supplied explicitly by an
// insert (rather than left zero for storage to fill), so a later Next never
// collides with a value the caller chose itself.
func (s *Sequence) Observe(v uint64) {
	for {
		cur := atomic.LoadUint64(&s.next)
		if v < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.next, cur, v+1) {
			return
		}
	}
}
