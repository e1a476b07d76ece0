package bsatn

import "fmt"

// ErrTypeMismatch is returned, per spec.md §4.1, "on any length overflow or
// unknown tag; no partial values are produced."
type ErrTypeMismatch struct {
	Reason string
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("bsatn: type mismatch: %s", e.Reason)
}

func typeMismatch(format string, args ...interface{}) error {
	return &ErrTypeMismatch{Reason: fmt.Sprintf(format, args...)}
}
