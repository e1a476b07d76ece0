// Package stdberr implements the error taxonomy of spec.md §7 as a single
// set of structured, wrapped error types shared by storage, the module
// host, the subscription engine, and the session protocol. It generalizes
// the teacher's internal/errors.Errno (a single numeric-code wrapper) into
// one named type per kind, each carrying the fields that kind's message
// needs instead of an opaque code.
package stdberr

import "fmt"

// TypeMismatch: a value did not decode under the expected type.
type TypeMismatch struct {
	Reason string
}

func (e *TypeMismatch) Error() string { return fmt.Sprintf("type mismatch: %s", e.Reason) }

// UniqueConstraintViolation: insert/update would duplicate a unique value.
type UniqueConstraintViolation struct {
	Table  string
	Column string
}

func (e *UniqueConstraintViolation) Error() string {
	return fmt.Sprintf("unique constraint violation on %s.%s", e.Table, e.Column)
}

// NotFound: referenced row absent.
type NotFound struct {
	Table string
	Key   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found in %s: %s", e.Table, e.Key) }

// PrivateTableAccess: non-owner attempted to read/write a private table
// from outside a reducer.
type PrivateTableAccess struct {
	Table string
}

func (e *PrivateTableAccess) Error() string {
	return fmt.Sprintf("private table access denied: %s", e.Table)
}

// SchemaMismatch: publish rejected because migration would be non-additive
// without --clear-database.
type SchemaMismatch struct {
	Reason string
}

func (e *SchemaMismatch) Error() string { return fmt.Sprintf("schema mismatch: %s", e.Reason) }

// OutOfEnergy: reducer exceeded its budget.
type OutOfEnergy struct {
	ReducerName string
}

func (e *OutOfEnergy) Error() string { return fmt.Sprintf("out of energy: %s", e.ReducerName) }

// ReducerPanic: module trapped; entire transaction rolled back.
type ReducerPanic struct {
	Message string
}

func (e *ReducerPanic) Error() string { return fmt.Sprintf("reducer panic: %s", e.Message) }

// SubscriptionError: malformed or unsatisfiable subscription.
type SubscriptionError struct {
	Reason string
}

func (e *SubscriptionError) Error() string { return fmt.Sprintf("subscription error: %s", e.Reason) }

// AuthError: token invalid/expired.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error: %s", e.Reason) }

// NotInTransaction: a table operation was attempted outside a reducer call
// (retained from the teacher's Errno set — it has no spec.md §7 name but
// is still a real failure mode of internal/storage's API).
type NotInTransaction struct{}

func (e *NotInTransaction) Error() string { return "not in transaction" }
