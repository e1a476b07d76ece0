package hostmodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clockworklabs/stdb-core/internal/abi"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/metrics"
	"github.com/clockworklabs/stdb-core/internal/moduledesc"
	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/storage"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/clockworklabs/stdb-core/internal/wal"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ReducerStatus is the three-way outcome __call_reducer__ reports back
// (spec.md §4.4: "Committed, Failed(reason), or OutOfEnergy").
type ReducerStatus uint8

const (
	ReducerCommitted ReducerStatus = iota
	ReducerFailed
	ReducerOutOfEnergy
)

func (s ReducerStatus) String() string {
	switch s {
	case ReducerCommitted:
		return "Committed"
	case ReducerOutOfEnergy:
		return "OutOfEnergy"
	default:
		return "Failed"
	}
}

// wasm status codes returned on the stack by __describe_module__ and
// __call_reducer__, distinct from abi's host-import status space since
// these travel the opposite direction (module to host).
const (
	wasmStatusCommitted     uint32 = 0
	wasmStatusFailed        uint32 = 1
	wasmStatusOutOfEnergy   uint32 = 2
	wasmStatusBufferTooSmall uint32 = 3
)

// Outcome is the result of one reducer invocation.
type Outcome struct {
	Status     ReducerStatus
	Message    string
	EnergyUsed int64
}

// Host owns one running module instance and the database it governs. It
// generalizes the teacher's internal/wasm.Runtime (one wazero.Runtime plus
// one fixed api.Module/db.Database pair, with no reinstantiation path) into
// something that reinstantiates a fresh instance on trap and threads a fresh
// internal/abi.CallContext through every call instead of keeping
// long-lived instance/db fields on the call path.
type Host struct {
	cfg      Config
	identity types.Identity

	runtime  wazero.Runtime
	abiHost  *abi.Host
	db       *storage.Database

	mu       sync.Mutex
	wasmBytes []byte
	compiled wazero.CompiledModule
	instance api.Module
	desc     moduledesc.ModuleDesc
	reducerByName map[string]uint32
	reducerByID   map[uint32]moduledesc.ReducerDesc

	txCounter     uint64
	schemaVersion uint32
	wal           *wal.WAL
	metrics       *metrics.Metrics
}

// NewHost builds a Host with an empty database, ready for Publish.
func NewHost(ctx context.Context, cfg Config, identity types.Identity) (*Host, error) {
	wazeroCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MemoryLimitPages)
	runtime := wazero.NewRuntimeWithConfig(ctx, wazeroCfg)

	abiHost := abi.NewHost()
	if err := abiHost.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("hostmodule: instantiating host capabilities: %w", err)
	}

	return &Host{
		cfg:      cfg,
		identity: identity,
		runtime:  runtime,
		abiHost:  abiHost,
		db:       storage.NewDatabase(),
	}, nil
}

// Database returns the host's underlying database, for the subscription
// engine and SQL surface to read from.
func (h *Host) Database() *storage.Database { return h.db }

// AttachWAL wires a commit log into the host: every reducer call that
// commits from this point on also appends a wal.Record. Call this after
// replaying any prior segments into h.Database() (internal/wal.Apply) and
// advancing w past their highest commit id (w.SetNextCommitID), so a
// freshly appended record never reuses a commit id already on disk.
func (h *Host) AttachWAL(w *wal.WAL) { h.wal = w }

// AttachMetrics wires a counter set into the host; nil (the default) skips
// all metrics recording.
func (h *Host) AttachMetrics(m *metrics.Metrics) { h.metrics = m }

// Describe returns the currently published module's description.
func (h *Host) Describe() moduledesc.ModuleDesc { return h.desc }

// Publish implements spec.md §4.4 step 1-3: instantiate, describe,
// validate, create-or-migrate, then run init or update.
func (h *Host) Publish(ctx context.Context, wasmBytes []byte, clearDatabase bool) error {
	h.mu.Lock()
	unlocked := false
	unlock := func() {
		if !unlocked {
			unlocked = true
			h.mu.Unlock()
		}
	}
	defer unlock()

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("hostmodule: compiling module: %w", err)
	}

	instance, err := h.instantiateLocked(ctx, compiled)
	if err != nil {
		return err
	}

	descBytes, err := h.callDescribeModuleLocked(ctx, instance)
	if err != nil {
		return err
	}
	desc, err := moduledesc.Decode(descBytes)
	if err != nil {
		return fmt.Errorf("hostmodule: decoding module description: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	firstPublish := len(h.desc.Tables) == 0 && len(h.desc.Reducers) == 0
	fresh := firstPublish || clearDatabase
	if clearDatabase {
		h.db = storage.NewDatabase()
	}
	if err := applyDescription(h.db, desc, fresh); err != nil {
		return err
	}

	h.wasmBytes = wasmBytes
	h.compiled = compiled
	h.instance = instance
	h.desc = desc
	h.reducerByName, h.reducerByID = assignReducerIDs(desc)
	h.schemaVersion++

	log.Info().Int("tables", len(desc.Tables)).Int("reducers", len(desc.Reducers)).Bool("fresh", fresh).Msg("hostmodule: published")

	var lifecycleName string
	if fresh {
		if r, ok := desc.ReducerByName("init"); ok && r.Kind == moduledesc.ReducerKindInit {
			lifecycleName = r.Name
		}
	} else {
		if r, ok := desc.ReducerByName("update"); ok && r.Kind == moduledesc.ReducerKindUpdate {
			lifecycleName = r.Name
		}
	}

	var scheduled []abi.ScheduledImmediate
	if lifecycleName != "" {
		out, s, dispatchErr := h.dispatch(ctx, lifecycleName, types.ZeroIdentity, types.ZeroConnectionId, bsatn.ProductValue(), nil)
		if dispatchErr != nil {
			return fmt.Errorf("hostmodule: %s reducer: %w", lifecycleName, dispatchErr)
		}
		if out.Status != ReducerCommitted {
			return fmt.Errorf("hostmodule: %s reducer did not commit: %s", lifecycleName, out.Message)
		}
		scheduled = s
	}

	unlock()
	h.fireScheduledImmediates(ctx, scheduled)
	return nil
}

func (h *Host) instantiateLocked(ctx context.Context, compiled wazero.CompiledModule) (api.Module, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()
	instance, err := h.runtime.InstantiateModule(timeoutCtx, compiled, wazero.NewModuleConfig().WithName("module"))
	if err != nil {
		return nil, fmt.Errorf("hostmodule: instantiating module: %w", err)
	}
	if instance.Memory() == nil {
		return nil, fmt.Errorf("hostmodule: module does not export memory")
	}
	return instance, nil
}

// reinstantiateLocked instantiates a fresh instance from the cached
// wazero.CompiledModule after a trap, per spec.md §4.4: "reinstantiate the
// module before the next call." Table/reducer state is untouched; only the
// sandboxed instance is replaced.
func (h *Host) reinstantiateLocked(ctx context.Context) error {
	if h.compiled == nil {
		return fmt.Errorf("hostmodule: no compiled module to reinstantiate")
	}
	if h.instance != nil {
		_ = h.instance.Close(ctx)
	}
	instance, err := h.instantiateLocked(ctx, h.compiled)
	if err != nil {
		return err
	}
	h.instance = instance
	log.Warn().Msg("hostmodule: module trapped, reinstantiated fresh instance")
	return nil
}

// moduleAlloc calls the module's required __alloc__(size) -> ptr export,
// which the host uses to get scratch space for every buffer it writes
// before calling __describe_module__/__call_reducer__ (wasm modules have
// no ambient allocator the host can safely write through otherwise).
func (h *Host) moduleAlloc(ctx context.Context, size uint32) (uint32, error) {
	fn := h.instance.ExportedFunction("__alloc__")
	if fn == nil {
		return 0, fmt.Errorf("hostmodule: module does not export __alloc__")
	}
	results, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	return uint32(results[0]), nil
}

func (h *Host) callDescribeModuleLocked(ctx context.Context, instance api.Module) ([]byte, error) {
	fn := instance.ExportedFunction("__describe_module__")
	if fn == nil {
		return nil, fmt.Errorf("hostmodule: module does not export __describe_module__")
	}
	allocFn := instance.ExportedFunction("__alloc__")
	if allocFn == nil {
		return nil, fmt.Errorf("hostmodule: module does not export __alloc__")
	}

	outResult, err := allocFn.Call(ctx, uint64(h.cfg.ScratchBufferCap))
	if err != nil {
		return nil, err
	}
	outPtr := uint32(outResult[0])

	lenResult, err := allocFn.Call(ctx, 4)
	if err != nil {
		return nil, err
	}
	outLenPtr := uint32(lenResult[0])

	results, err := fn.Call(ctx, uint64(outPtr), uint64(h.cfg.ScratchBufferCap), uint64(outLenPtr))
	if err != nil {
		return nil, err
	}
	if status := uint32(results[0]); status != wasmStatusCommitted {
		return nil, fmt.Errorf("hostmodule: __describe_module__ returned status %d", status)
	}

	n, err := abi.ReadU32(instance.Memory(), outLenPtr)
	if err != nil {
		return nil, err
	}
	return abi.ReadMemory(instance.Memory(), outPtr, n)
}

// CallReducer dispatches one reducer call in its own transaction, per
// spec.md §4.4's "Reducer dispatch" sequence, then fires any
// scheduled-immediate follow-ups outside the host lock.
func (h *Host) CallReducer(ctx context.Context, name string, sender types.Identity, conn types.ConnectionId, args bsatn.AlgebraicValue) (Outcome, error) {
	return h.callReducerAndFollowUps(ctx, name, sender, conn, args, nil)
}

// callReducerAndFollowUps holds the host lock only for the dispatch itself;
// scheduled-immediate follow-ups are fired after the lock is released so
// that a follow-up's own dispatch does not reenter the (non-reentrant)
// mutex the triggering call still held.
func (h *Host) callReducerAndFollowUps(ctx context.Context, name string, sender types.Identity, conn types.ConnectionId, args bsatn.AlgebraicValue, prelude func(tx *storage.Transaction) error) (Outcome, error) {
	h.mu.Lock()
	out, scheduled, err := h.dispatch(ctx, name, sender, conn, args, prelude)
	h.mu.Unlock()
	if err != nil {
		return out, err
	}
	if out.Status == ReducerCommitted {
		h.fireScheduledImmediates(ctx, scheduled)
	}
	return out, nil
}

// dispatch runs one reducer call inside its own transaction. The caller
// must hold h.mu. prelude (if non-nil) runs inside the same transaction as
// the reducer call before invoking the module, so a scheduled fire's
// delete-or-reschedule mutation commits atomically with whatever the
// reducer itself does.
func (h *Host) dispatch(ctx context.Context, name string, sender types.Identity, conn types.ConnectionId, args bsatn.AlgebraicValue, prelude func(tx *storage.Transaction) error) (out Outcome, scheduled []abi.ScheduledImmediate, err error) {
	reducerDesc, ok := h.desc.ReducerByName(name)
	if !ok {
		return Outcome{}, nil, &stdberr.NotFound{Table: "reducer:" + name}
	}
	reducerID := h.reducerByName[name]

	tx := h.db.Begin()
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if prelude != nil {
		if preludeErr := prelude(tx); preludeErr != nil {
			return Outcome{Status: ReducerFailed, Message: preludeErr.Error()}, nil, nil
		}
	}

	h.txCounter++
	rngSeed := reducerRNGSeed(h.txCounter, reducerID)
	energy := abi.NewEnergyMeter(h.cfg.EnergyBudget)
	cc := abi.NewCallContext(h.db, tx, h.identity, sender, conn, types.TimestampFromTime(time.Now()), energy)

	callCtx := abi.WithCallContext(ctx, cc)
	callCtx = abi.WithEnergyMetering(callCtx, energy)
	timeoutCtx, cancel := context.WithTimeout(callCtx, h.cfg.CallTimeout)
	defer cancel()

	status, message, callErr := h.invokeReducer(timeoutCtx, reducerID, rngSeed, sender, conn, reducerDesc, args)
	used := h.cfg.EnergyBudget - energy.Remaining()
	if callErr != nil {
		if reinstErr := h.reinstantiateLocked(ctx); reinstErr != nil {
			log.Error().Err(reinstErr).Msg("hostmodule: reinstantiation failed after trap")
		}
		if _, isEnergy := callErr.(*stdberr.OutOfEnergy); isEnergy {
			return Outcome{Status: ReducerOutOfEnergy, Message: callErr.Error(), EnergyUsed: used}, nil, nil
		}
		return Outcome{Status: ReducerFailed, Message: callErr.Error(), EnergyUsed: used}, nil, nil
	}

	switch status {
	case wasmStatusCommitted:
		var changes []storage.RowChange
		unsubscribe := h.db.Subscribe(func(c []storage.RowChange) { changes = c })
		commitErr := tx.Commit()
		unsubscribe()
		if commitErr != nil {
			return Outcome{}, nil, commitErr
		}
		committed = true
		if h.wal != nil {
			if walErr := h.appendWAL(reducerID, reducerDesc, sender, conn, cc.Timestamp, args, changes); walErr != nil {
				log.Error().Err(walErr).Str("reducer", reducerDesc.Name).Msg("hostmodule: wal append failed")
			}
		}
		return Outcome{Status: ReducerCommitted, EnergyUsed: used}, cc.ScheduledImmediates(), nil
	case wasmStatusOutOfEnergy:
		return Outcome{Status: ReducerOutOfEnergy, Message: message, EnergyUsed: used}, nil, nil
	default:
		return Outcome{Status: ReducerFailed, Message: message, EnergyUsed: used}, nil, nil
	}
}

// appendWAL turns one committed call's row changes into a wal.Record and
// appends it. Called with h.mu already held by dispatch; encoding errors
// here are logged rather than propagated, since a WAL write failure must
// never unwind an already-committed transaction (spec.md §4.7 treats
// durability as a deployment knob, not a commit precondition).
func (h *Host) appendWAL(reducerID uint32, reducerDesc moduledesc.ReducerDesc, sender types.Identity, conn types.ConnectionId, ts types.Timestamp, args bsatn.AlgebraicValue, changes []storage.RowChange) error {
	argsBytes, err := bsatn.Encode(args, reducerDesc.Args)
	if err != nil {
		return fmt.Errorf("encoding reducer args: %w", err)
	}

	ops := make([]wal.Op, 0, len(changes))
	walBytes := len(argsBytes)
	for _, c := range changes {
		table, ok := h.db.Table(c.TableID)
		if !ok {
			continue
		}
		rowBytes, err := bsatn.Encode(c.Row, table.Schema().RowType)
		if err != nil {
			return fmt.Errorf("encoding row for table %q: %w", table.Name(), err)
		}
		kind := wal.OpDelete
		if c.Insert {
			kind = wal.OpInsert
		}
		ops = append(ops, wal.Op{Kind: kind, TableName: table.Name(), RowBytes: rowBytes})
		walBytes += len(rowBytes)
	}

	_, err = h.wal.Append(wal.Record{
		SchemaVersion:    h.schemaVersion,
		Timestamp:        ts,
		CallerIdentity:   sender,
		CallerConnection: conn,
		ReducerID:        reducerID,
		ReducerName:      reducerDesc.Name,
		ArgsBytes:        argsBytes,
		Ops:              ops,
	})
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.WALBytesAppended.Add(float64(walBytes))
	}
	return nil
}

// invokeReducer marshals arguments into the module's own memory and calls
// __call_reducer__, recovering a panic (energy exhaustion, or any other
// module trap) into an error rather than letting it escape to the caller.
func (h *Host) invokeReducer(ctx context.Context, reducerID uint32, rngSeed uint64, sender types.Identity, conn types.ConnectionId, reducerDesc moduledesc.ReducerDesc, args bsatn.AlgebraicValue) (status uint32, message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			if oe, ok := r.(*stdberr.OutOfEnergy); ok {
				err = oe
				return
			}
			err = fmt.Errorf("hostmodule: reducer %q trapped: %v", reducerDesc.Name, r)
		}
	}()

	argsBytes, encErr := bsatn.Encode(args, reducerDesc.Args)
	if encErr != nil {
		return 0, "", fmt.Errorf("hostmodule: encoding reducer arguments: %w", encErr)
	}

	senderPtr, aerr := h.moduleAlloc(ctx, 32)
	if aerr != nil {
		return 0, "", aerr
	}
	connPtr, aerr := h.moduleAlloc(ctx, 16)
	if aerr != nil {
		return 0, "", aerr
	}
	argsPtr, aerr := h.moduleAlloc(ctx, uint32(len(argsBytes)))
	if aerr != nil {
		return 0, "", aerr
	}
	errPtr, aerr := h.moduleAlloc(ctx, h.cfg.ScratchBufferCap)
	if aerr != nil {
		return 0, "", aerr
	}
	errLenPtr, aerr := h.moduleAlloc(ctx, 4)
	if aerr != nil {
		return 0, "", aerr
	}

	mem := h.instance.Memory()
	if _, werr := abi.WriteMemory(mem, senderPtr, sender[:], 32); werr != nil {
		return 0, "", werr
	}
	if _, werr := abi.WriteMemory(mem, connPtr, conn[:], 16); werr != nil {
		return 0, "", werr
	}
	if len(argsBytes) > 0 {
		if _, werr := abi.WriteMemory(mem, argsPtr, argsBytes, uint32(len(argsBytes))); werr != nil {
			return 0, "", werr
		}
	}

	fn := h.instance.ExportedFunction("__call_reducer__")
	if fn == nil {
		return 0, "", fmt.Errorf("hostmodule: module does not export __call_reducer__")
	}

	ts := uint64(time.Now().UnixMicro())

	results, callErr := fn.Call(ctx,
		uint64(reducerID),
		uint64(senderPtr), uint64(connPtr),
		ts, rngSeed,
		uint64(argsPtr), uint64(len(argsBytes)),
		uint64(errPtr), uint64(h.cfg.ScratchBufferCap), uint64(errLenPtr),
	)
	if callErr != nil {
		return 0, "", fmt.Errorf("hostmodule: reducer %q call failed: %w", reducerDesc.Name, callErr)
	}
	status = uint32(results[0])
	if status != wasmStatusCommitted {
		n, _ := abi.ReadU32(mem, errLenPtr)
		if n > 0 {
			msgBytes, rerr := abi.ReadMemory(mem, errPtr, n)
			if rerr == nil {
				message = string(msgBytes)
			}
		}
	}
	return status, message, nil
}

// RunScheduler drives spec.md §4.2's scheduled-table delivery: every tick it
// scans for due rows and dispatches each to its bound reducer, until ctx is
// canceled. Intended to run in its own goroutine for the lifetime of the
// host process (see pkg/stdb.New).
func (h *Host) RunScheduler(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.fireDueScheduled(ctx)
		}
	}
}

// fireDueScheduled dispatches every row due at this instant. Each row is
// handled independently: one failing or canceled fire never blocks another.
func (h *Host) fireDueScheduled(ctx context.Context) {
	now := types.TimestampFromTime(time.Now())
	for _, due := range h.db.DueRows(now) {
		h.fireDueRow(ctx, due)
	}
}

// fireDueRow dispatches one due row to its bound reducer, passing the row
// itself as the reducer's sole argument. The row's Table.FirePrelude runs
// inside the reducer's own transaction, so a one-shot time() row's delete
// (or a lost race against a delete that canceled the fire) commits
// atomically with whatever the reducer does. A committed interval() fire is
// rescheduled via Table.AdvanceInterval after the call returns, anchored to
// the deadline that just fired rather than wall-clock now (spec.md §9).
func (h *Host) fireDueRow(ctx context.Context, due storage.DueRow) {
	binding := due.Table.Schema().Schedule
	args := bsatn.ProductValue(due.Row)

	h.mu.Lock()
	out, scheduled, err := h.dispatch(ctx, binding.ReducerName, types.ZeroIdentity, types.ZeroConnectionId, args, due.Table.FirePrelude(due.RowID, due.IsTime))
	h.mu.Unlock()
	if err != nil {
		log.Warn().Str("reducer", binding.ReducerName).Err(err).Msg("hostmodule: scheduled reducer dispatch failed")
		return
	}
	if out.Status == ReducerFailed && out.Message == storage.ErrScheduleCanceled.Error() {
		return
	}
	if out.Status != ReducerCommitted {
		log.Warn().Str("reducer", binding.ReducerName).Str("status", out.Status.String()).Str("message", out.Message).Msg("hostmodule: scheduled reducer did not commit")
		return
	}
	if !due.IsTime {
		due.Table.AdvanceInterval(due.RowID, due.Table.Schema().ColumnIndex(binding.ScheduledAtCol))
	}
	h.fireScheduledImmediates(ctx, scheduled)
}

// fireScheduledImmediates runs every volatile_nonatomic_schedule_immediate
// request recorded during the triggering call, each in its own fresh
// transaction after the triggering transaction has committed (spec.md
// §4.3: "fires in a fresh transaction after commit"). Failures are logged,
// not propagated, matching the "advisory" framing of the capability.
func (h *Host) fireScheduledImmediates(ctx context.Context, scheduled []abi.ScheduledImmediate) {
	for _, s := range scheduled {
		reducerDesc, ok := h.desc.ReducerByName(s.ReducerName)
		if !ok {
			log.Warn().Str("reducer", s.ReducerName).Msg("hostmodule: scheduled_immediate names unknown reducer")
			continue
		}
		val, _, err := bsatn.Decode(s.Args, reducerDesc.Args)
		if err != nil {
			log.Warn().Str("reducer", s.ReducerName).Err(err).Msg("hostmodule: scheduled_immediate args did not decode")
			continue
		}
		if _, err := h.callReducerAndFollowUps(ctx, s.ReducerName, types.ZeroIdentity, types.ZeroConnectionId, val, nil); err != nil {
			log.Warn().Str("reducer", s.ReducerName).Err(err).Msg("hostmodule: scheduled_immediate reducer call failed")
		}
	}
}
