// Package hostmodule implements the module lifecycle of spec.md §4.4:
// publish (instantiate, describe, validate, create-or-migrate), the
// init/update lifecycle reducers, and per-call reducer dispatch on top of
// internal/storage and internal/abi. It generalizes the teacher's
// internal/wasm.Runtime (a single long-lived instance plus a fixed
// internal/db.Database) into a host that reinstantiates on trap and
// constructs a fresh internal/abi.CallContext per reducer call.
package hostmodule

import "time"

// Config holds the knobs spec.md §4.4/§5 leave to the host: the sandbox's
// memory ceiling, the wall-clock budget for one reducer call, and the
// default energy budget charged per call.
type Config struct {
	// MemoryLimitPages bounds a module instance's linear memory, matching
	// the teacher's Runtime.Config.MemoryLimit (64KB pages).
	MemoryLimitPages uint32

	// CallTimeout is the deadline put on the context of module
	// instantiation and of each reducer dispatch, mirroring the teacher's
	// InstantiateModule timeout context. The wazero runtime is not built
	// with WithCloseOnContextDone, so the deadline does not interrupt guest
	// code that is already running; __describe_module__ is called without
	// it.
	CallTimeout time.Duration

	// EnergyBudget is the default per-call energy budget (spec.md §4.4
	// "each call is given an energy budget").
	EnergyBudget int64

	// ScratchBufferCap bounds the error-message buffer the host offers a
	// reducer call to write a Failed(msg) explanation into.
	ScratchBufferCap uint32

	// SchedulerTick is how often Host.RunScheduler scans for due scheduled
	// rows (spec.md §4.2/§4.4's `scheduled` reducer kind).
	SchedulerTick time.Duration
}

// DefaultConfig returns sensible defaults, proportioned down from the
// teacher's DefaultConfig (100MB/30s) to values suited to a single
// database's reducer calls rather than a general-purpose WASM sandbox.
func DefaultConfig() Config {
	return Config{
		MemoryLimitPages: 256, // 16MB
		CallTimeout:      5 * time.Second,
		EnergyBudget:     1_000_000,
		ScratchBufferCap: 1 << 16,
		SchedulerTick:    100 * time.Millisecond,
	}
}
