package abi

import (
	"context"

	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
)

// ScheduledImmediate is one volatile_nonatomic_schedule_immediate request
// recorded during a reducer call. Per spec.md §4.3 it is advisory: the host
// module fires it in a fresh transaction after the current one commits,
// never inside it.
type ScheduledImmediate struct {
	ReducerName string
	Args        []byte
}

// CallContext is the per-reducer-call state every host function needs:
// the active transaction, the caller's identity, and the accumulators for
// effects (log lines, scheduled follow-ups) that must survive the call.
// internal/hostmodule constructs one of these per __call_reducer__
// invocation and threads it through context.Context, generalizing the
// teacher's single long-lived Runtime.db/Runtime.memory fields (which
// assumed exactly one module instance ever existed) into something fresh
// per call.
type CallContext struct {
	DB                 *storage.Database
	Tx                 *storage.Transaction
	ModuleIdentity     types.Identity
	SenderIdentity     types.Identity
	SenderConnectionID types.ConnectionId
	Timestamp          types.Timestamp
	Energy             *EnergyMeter

	iterators *iterRegistry
	scheduled []ScheduledImmediate
}

// NewCallContext builds a fresh per-call context with its own iterator
// registry.
func NewCallContext(db *storage.Database, tx *storage.Transaction, moduleIdentity, sender types.Identity, conn types.ConnectionId, ts types.Timestamp, energy *EnergyMeter) *CallContext {
	return &CallContext{
		DB: db, Tx: tx, ModuleIdentity: moduleIdentity, SenderIdentity: sender,
		SenderConnectionID: conn, Timestamp: ts, Energy: energy,
		iterators: newIterRegistry(),
	}
}

// ScheduledImmediates returns every volatile_nonatomic_schedule_immediate
// call recorded during this reducer invocation.
func (cc *CallContext) ScheduledImmediates() []ScheduledImmediate { return cc.scheduled }

type ctxKeyType struct{}

var ctxKey ctxKeyType

// WithCallContext attaches cc to ctx for the lifetime of one
// __call_reducer__ invocation.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, ctxKey, cc)
}

func callContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(ctxKey).(*CallContext)
	return cc
}
