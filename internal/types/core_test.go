package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityHexRoundTrip(t *testing.T) {
	var id Identity
	id[0] = 0xAB
	id[31] = 0xCD

	parsed, err := IdentityFromHex(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestIdentityZero(t *testing.T) {
	assert.True(t, ZeroIdentity.IsZero())
	id := ZeroIdentity
	id[5] = 1
	assert.False(t, id.IsZero())
}

func TestIdentityFromHexRejectsWrongLength(t *testing.T) {
	_, err := IdentityFromHex("abcd")
	assert.Error(t, err)
}

func TestTimestampOrdering(t *testing.T) {
	a := Timestamp{Microseconds: 100}
	b := Timestamp{Microseconds: 200}
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Equal(b))
}

func TestScheduleAtNextFireAnchorsOnScheduledNotActual(t *testing.T) {
	sched := ScheduleAtInterval(TimeDurationFromDuration(10 * time.Second))
	last := TimestampFromTime(time.Unix(1000, 0))

	next, ok := sched.NextFire(last)
	require.True(t, ok)
	assert.Equal(t, last.Add(TimeDurationFromDuration(10*time.Second)), next)

	// A second, later fire computed from the same anchor does not drift
	// forward just because delivery itself was late.
	actualLateFire := TimestampFromTime(time.Unix(1050, 0))
	nextAgain, _ := sched.NextFire(last)
	assert.NotEqual(t, actualLateFire, nextAgain)
}

func TestScheduleAtTimeHasNoInterval(t *testing.T) {
	sched := ScheduleAtTime(TimestampFromTime(time.Now()))
	assert.True(t, sched.IsTime())
	assert.False(t, sched.IsInterval())
	_, ok := sched.NextFire(Timestamp{})
	assert.False(t, ok)
}
