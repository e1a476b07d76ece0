package storage

import (
	"errors"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/types"
)

// Scheduled tag values of the ScheduleAt sum, matching
// ScheduleAtType()'s variant order: 0 = time, 1 = interval.
const (
	scheduleTagTime     = 0
	scheduleTagInterval = 1
)

// ScheduleAtType is the Sum AlgebraicType every scheduled table's
// ScheduledAt column must declare. time() carries an absolute microsecond
// timestamp; interval() carries a relative microsecond duration, the
// period the bound reducer re-fires at (spec.md §4.2).
func ScheduleAtType() bsatn.AlgebraicType {
	return bsatn.Sum(
		bsatn.NamedType{Name: "time", Type: bsatn.U64()},
		bsatn.NamedType{Name: "interval", Type: bsatn.U64()},
	)
}

// DueRow is one row whose schedule has fired.
type DueRow struct {
	Table  *Table
	RowID  RowID
	Row    bsatn.AlgebraicValue
	IsTime bool // true for a one-shot time() fire, false for interval()
}

// DueRows scans every schedule-bound table for rows whose ScheduledAt value
// is at or before now, per spec.md §4.2's scheduling contract. It does not
// mutate state: callers run each due row through a transaction built from
// Table.FirePrelude (deleting time() rows, rescheduling interval() rows via
// Table.AdvanceInterval) so a fire and its table effects commit together.
func (d *Database) DueRows(now types.Timestamp) []DueRow {
	var due []DueRow
	for _, t := range d.AllTables() {
		if t.schema.Schedule == nil {
			continue
		}
		col := t.schema.Schedule.ScheduledAtCol
		idx := t.schema.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		t.mu.RLock()
		for id, r := range t.rows {
			sched := r.values.Elements[idx]
			fireAt, ok := t.fireTimeOf(id, sched, now)
			if !ok || fireAt.After(now) {
				continue
			}
			due = append(due, DueRow{Table: t, RowID: id, Row: r.values, IsTime: sched.Tag == scheduleTagTime})
		}
		t.mu.RUnlock()
	}
	return due
}

// fireTimeOf returns a row's next fire time. For time(), the payload IS the
// fire time. For interval(), the payload is the period, not an absolute
// instant, so the next fire is tracked separately in t.scheduleNext: the
// first time a row is observed its deadline is seeded to now+interval, and
// Table.AdvanceInterval moves it forward by one interval, anchored to the
// previous deadline (internal/types.ScheduleAt.NextFire's anti-drift rule)
// rather than to the time it actually fired.
func (t *Table) fireTimeOf(id RowID, v bsatn.AlgebraicValue, now types.Timestamp) (types.Timestamp, bool) {
	if v.Kind != bsatn.KindSum || v.Payload == nil {
		return types.Timestamp{}, false
	}
	if v.Tag == scheduleTagTime {
		return types.Timestamp{Microseconds: v.Payload.U64}, true
	}
	if v.Tag != scheduleTagInterval {
		return types.Timestamp{}, false
	}

	t.scheduleMu.Lock()
	defer t.scheduleMu.Unlock()
	if next, ok := t.scheduleNext[id]; ok {
		return next, true
	}
	interval := types.TimeDuration{Microseconds: v.Payload.U64}
	next := now.Add(interval)
	t.scheduleNext[id] = next
	return next, true
}

// AdvanceInterval reschedules an interval() row after it has fired,
// anchoring the next deadline to the one that just fired rather than to
// wall-clock now, so a backlog of overdue ticks never drifts the period
// (spec.md §9). col is the row's ScheduledAt column index. A no-op if the
// row is gone or isn't tracked as an interval() schedule.
func (t *Table) AdvanceInterval(id RowID, col int) {
	t.mu.RLock()
	r, ok := t.rows[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	sched := r.values.Elements[col]
	if sched.Kind != bsatn.KindSum || sched.Tag != scheduleTagInterval || sched.Payload == nil {
		return
	}
	interval := types.TimeDuration{Microseconds: sched.Payload.U64}

	t.scheduleMu.Lock()
	defer t.scheduleMu.Unlock()
	last, ok := t.scheduleNext[id]
	if !ok {
		return
	}
	next, ok := types.ScheduleAtInterval(interval).NextFire(last)
	if !ok {
		return
	}
	t.scheduleNext[id] = next
}

// forgetSchedule drops a deleted row's tracked interval() deadline so
// scheduleNext does not grow for rows gone for good.
func (t *Table) forgetSchedule(id RowID) {
	t.scheduleMu.Lock()
	delete(t.scheduleNext, id)
	t.scheduleMu.Unlock()
}

// ErrScheduleCanceled is returned by a Table.FirePrelude when the due row
// was deleted before the scheduler's dispatch could reach it — cancel
// races the fire and wins, per spec.md §4.2.
var ErrScheduleCanceled = errors.New("storage: scheduled row canceled before its fire")

// FirePrelude builds the internal/hostmodule dispatch prelude for one due
// row: it re-checks the row still exists (a delete can race the
// scheduler's unlocked DueRows scan right up until the firing transaction
// begins) and, for a one-shot time() row, deletes it before the bound
// reducer runs, so the delete and the reducer's own effects commit
// atomically and the row can never fire twice. interval() rows are left in
// place here; the caller advances their deadline via AdvanceInterval only
// after the reducer call has committed.
func (t *Table) FirePrelude(id RowID, isTime bool) func(tx *Transaction) error {
	return func(tx *Transaction) error {
		t.mu.RLock()
		_, exists := t.rows[id]
		t.mu.RUnlock()
		if !exists {
			return ErrScheduleCanceled
		}
		if isTime {
			tx.setFor(t).deleted[id] = true
		}
		return nil
	}
}
