package abi

import (
	"context"
	"sync/atomic"

	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// EnergyMeter is a deterministic per-reducer-call resource budget. It
// generalizes the teacher's simpleFunctionListener (internal/wasm/wasm.go),
// which logs every function entry/exit via
// experimental.FunctionListenerFactory, into one that charges every call
// against a budget instead of printing a trace line.
type EnergyMeter struct {
	remaining atomic.Int64
}

// NewEnergyMeter starts a meter with the given budget. Every exported and
// imported function call costs one unit, matching spec.md §5's requirement
// that energy consumption be deterministic and independent of wall-clock
// scheduling.
func NewEnergyMeter(budget int64) *EnergyMeter {
	m := &EnergyMeter{}
	m.remaining.Store(budget)
	return m
}

// Exhausted reports whether the budget has been spent.
func (m *EnergyMeter) Exhausted() bool { return m.remaining.Load() <= 0 }

// Remaining returns the unspent budget.
func (m *EnergyMeter) Remaining() int64 { return m.remaining.Load() }

type energyListenerFactory struct {
	meter *EnergyMeter
}

// WithEnergyMetering installs a FunctionListenerFactory that charges meter
// one unit per function call (host import or module export), aborting the
// call once the budget is spent. Installed once per reducer invocation's
// context, mirroring how the teacher installs simpleFunctionListenerFactory
// once per Runtime.
func WithEnergyMetering(ctx context.Context, meter *EnergyMeter) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, &energyListenerFactory{meter: meter})
}

func (f *energyListenerFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	return &energyListener{meter: f.meter}
}

type energyListener struct {
	meter *EnergyMeter
}

func (l *energyListener) Before(ctx context.Context, mod api.Module, def api.FunctionDefinition, params []uint64, stackIterator experimental.StackIterator) {
	if l.meter.remaining.Add(-1) < 0 {
		panic(&stdberr.OutOfEnergy{ReducerName: mod.Name()})
	}
}

func (l *energyListener) After(ctx context.Context, mod api.Module, def api.FunctionDefinition, results []uint64) {
}

func (l *energyListener) Abort(ctx context.Context, mod api.Module, def api.FunctionDefinition, err error) {
}
