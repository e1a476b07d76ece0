package storage

import (
	"testing"
	"time"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reminderSchema(t *testing.T) *TableSchema {
	t.Helper()
	rowType := bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "scheduled_at", Type: ScheduleAtType()},
	)
	cols := []ColumnConstraint{
		{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true},
		{Name: "scheduled_at"},
	}
	schema, err := NewTableSchema(types.TableID(2), "reminder", rowType, cols, false,
		&ScheduleBinding{ReducerName: "send_reminder", ScheduledAtCol: "scheduled_at"})
	require.NoError(t, err)
	return schema
}

func TestDueRowsFindsPastTimeFires(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	past := types.TimestampFromTime(time.Now().Add(-time.Hour))
	sched := bsatn.SumValue(scheduleTagTime, ptr(bsatn.U64Value(past.Microseconds)))

	tx := db.Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	due := db.DueRows(types.TimestampFromTime(time.Now()))
	require.Len(t, due, 1)
	assert.True(t, due[0].IsTime)
}

func TestDueRowsSkipsFutureFires(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	future := types.TimestampFromTime(time.Now().Add(time.Hour))
	sched := bsatn.SumValue(scheduleTagTime, ptr(bsatn.U64Value(future.Microseconds)))

	tx := db.Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	due := db.DueRows(types.TimestampFromTime(time.Now()))
	assert.Empty(t, due)
}

func ptr(v bsatn.AlgebraicValue) *bsatn.AlgebraicValue { return &v }

// TestDueRowsSeedsFreshIntervalRowsToNowPlusInterval pins the fix for
// interval() misinterpretation: the stored payload is a period, not an
// absolute instant, so a freshly observed interval() row must not be
// immediately due no matter how small the interval.
func TestDueRowsSeedsFreshIntervalRowsToNowPlusInterval(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	interval := types.TimeDuration{Microseconds: uint64(time.Minute.Microseconds())}
	sched := bsatn.SumValue(scheduleTagInterval, ptr(bsatn.U64Value(interval.Microseconds)))

	tx := db.Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, db.DueRows(types.TimestampFromTime(time.Now())))
}

// TestFirePreludeDeletesTimeRowBeforeDelivery exercises scenario 3's
// exactly-once requirement: a one-shot time() row is gone the instant the
// firing transaction commits, and no longer shows up as due.
func TestFirePreludeDeletesTimeRowBeforeDelivery(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	past := types.TimestampFromTime(time.Now().Add(-time.Hour))
	sched := bsatn.SumValue(scheduleTagTime, ptr(bsatn.U64Value(past.Microseconds)))

	tx := db.Begin()
	inserted, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	due := db.DueRows(types.TimestampFromTime(time.Now()))
	require.Len(t, due, 1)
	d := due[0]
	assert.True(t, d.IsTime)
	assert.True(t, d.Row.Equal(inserted))

	fireTx := db.Begin()
	require.NoError(t, d.Table.FirePrelude(d.RowID, d.IsTime)(fireTx))
	require.NoError(t, fireTx.Commit())

	assert.Empty(t, db.DueRows(types.TimestampFromTime(time.Now())))

	checkTx := db.Begin()
	rows := table.Iter(checkTx)
	checkTx.Rollback()
	assert.Empty(t, rows)
}

// TestFirePreludeCancelsIfRowDeletedBeforeFire exercises scenario 3's
// cancel-before-fire requirement: a row deleted by another reducer between
// the scheduler's scan and its dispatch must never fire.
func TestFirePreludeCancelsIfRowDeletedBeforeFire(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	past := types.TimestampFromTime(time.Now().Add(-time.Hour))
	sched := bsatn.SumValue(scheduleTagTime, ptr(bsatn.U64Value(past.Microseconds)))

	tx := db.Begin()
	inserted, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	due := db.DueRows(types.TimestampFromTime(time.Now()))
	require.Len(t, due, 1)
	d := due[0]

	cancelTx := db.Begin()
	deleted, err := table.DeleteByColumn(cancelTx, "id", inserted.Elements[0])
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, cancelTx.Commit())

	fireTx := db.Begin()
	err = d.Table.FirePrelude(d.RowID, d.IsTime)(fireTx)
	fireTx.Rollback()
	assert.ErrorIs(t, err, ErrScheduleCanceled)
}

// TestAdvanceIntervalAnchorsToLastDeadlineNotNow pins the anti-drift
// rescheduling rule (spec.md §9): the next deadline is the one that just
// fired plus one interval, never wall-clock now, so a long backlog of
// missed ticks doesn't widen the effective period.
func TestAdvanceIntervalAnchorsToLastDeadlineNotNow(t *testing.T) {
	db := NewDatabase()
	table := db.RegisterTable(reminderSchema(t))

	interval := types.TimeDuration{Microseconds: uint64(time.Hour.Microseconds())}
	sched := bsatn.SumValue(scheduleTagInterval, ptr(bsatn.U64Value(interval.Microseconds)))

	tx := db.Begin()
	_, err := table.Insert(tx, bsatn.ProductValue(bsatn.U64Value(0), sched))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// The first scan seeds the row's deadline to now+interval; a scan two
	// intervals later finds it due.
	db.DueRows(types.TimestampFromTime(time.Now()))
	due := db.DueRows(types.TimestampFromTime(time.Now().Add(2 * time.Hour)))
	require.Len(t, due, 1)
	id := due[0].RowID

	staleDeadline := types.TimestampFromTime(time.Now().Add(-3 * time.Hour))
	table.scheduleMu.Lock()
	table.scheduleNext[id] = staleDeadline
	table.scheduleMu.Unlock()

	col := table.Schema().ColumnIndex("scheduled_at")
	table.AdvanceInterval(id, col)

	table.scheduleMu.Lock()
	next := table.scheduleNext[id]
	table.scheduleMu.Unlock()

	want, ok := types.ScheduleAtInterval(interval).NextFire(staleDeadline)
	require.True(t, ok)
	assert.True(t, next.Equal(want))
}
