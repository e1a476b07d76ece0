// Package types implements the core value types shared by every subsystem:
// Identity, ConnectionId, Timestamp, TimeDuration and ScheduleAt, plus the
// small integer newtypes (TableID, IndexID) used to name schema objects.
package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Identity is a 256-bit opaque principal name (spec.md §3). The all-zero
// value is the reserved null sentinel.
type Identity [32]byte

// ZeroIdentity is the reserved null sentinel.
var ZeroIdentity = Identity{}

func (i Identity) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether this is the null-identity sentinel.
func (i Identity) IsZero() bool { return i == ZeroIdentity }

// IdentityFromHex parses a lowercase hex-encoded 32-byte identity.
func IdentityFromHex(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("types: invalid identity hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("types: invalid identity length: got %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// ConnectionId is a 128-bit value naming a single client session. All-zero
// means "no connection" (a reducer invoked by the system, e.g. a schedule
// fire or the init reducer).
type ConnectionId [16]byte

// ZeroConnectionId is the "no connection" sentinel.
var ZeroConnectionId = ConnectionId{}

func (c ConnectionId) String() string { return hex.EncodeToString(c[:]) }

func (c ConnectionId) IsZero() bool { return c == ZeroConnectionId }

// Timestamp is a point in time expressed as microseconds since the Unix
// epoch, matching the BSATN wire representation used across the protocol.
type Timestamp struct {
	Microseconds uint64
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Microseconds: uint64(t.UnixMicro())}
}

func (t Timestamp) ToTime() time.Time {
	return time.UnixMicro(int64(t.Microseconds))
}

func (t Timestamp) String() string { return t.ToTime().Format(time.RFC3339Nano) }

func (t Timestamp) Before(o Timestamp) bool { return t.Microseconds < o.Microseconds }
func (t Timestamp) After(o Timestamp) bool  { return t.Microseconds > o.Microseconds }
func (t Timestamp) Equal(o Timestamp) bool  { return t.Microseconds == o.Microseconds }

func (t Timestamp) Add(d TimeDuration) Timestamp {
	return Timestamp{Microseconds: t.Microseconds + d.Microseconds}
}

// TimeDuration is a span of time, in microseconds.
type TimeDuration struct {
	Microseconds uint64
}

func TimeDurationFromDuration(d time.Duration) TimeDuration {
	return TimeDuration{Microseconds: uint64(d.Microseconds())}
}

func (d TimeDuration) ToDuration() time.Duration {
	return time.Duration(d.Microseconds) * time.Microsecond
}

func (d TimeDuration) String() string { return d.ToDuration().String() }

// ScheduleAt is the sum `time(Timestamp) | interval(Duration)` a scheduled
// table's ScheduledAt column holds (spec.md §4.2).
type ScheduleAt struct {
	Time     *Timestamp
	Interval *TimeDuration
}

func ScheduleAtTime(t Timestamp) ScheduleAt         { return ScheduleAt{Time: &t} }
func ScheduleAtInterval(d TimeDuration) ScheduleAt  { return ScheduleAt{Interval: &d} }
func (s ScheduleAt) IsTime() bool                   { return s.Time != nil }
func (s ScheduleAt) IsInterval() bool               { return s.Interval != nil }

func (s ScheduleAt) String() string {
	switch {
	case s.IsTime():
		return fmt.Sprintf("time(%s)", s.Time)
	case s.IsInterval():
		return fmt.Sprintf("interval(%s)", s.Interval)
	default:
		return "ScheduleAt(none)"
	}
}

// NextFire computes the next fire time for an interval schedule, anchored to
// the last scheduled time rather than the actual fire time, so a backlog of
// overdue fires doesn't drift the period (spec.md §9).
func (s ScheduleAt) NextFire(lastScheduled Timestamp) (Timestamp, bool) {
	if !s.IsInterval() {
		return Timestamp{}, false
	}
	return lastScheduled.Add(*s.Interval), true
}

// TableID names a table within a database instance.
type TableID uint32

// IndexID names an index within a database instance.
type IndexID uint32

// ReducerID names a reducer within a module.
type ReducerID uint32
