package abi

import (
	"context"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module name every compiled reducer module
// expects its host capabilities under, carried over unchanged from the
// teacher's wasm.spacetimeModule.
const HostModuleName = "spacetime_10.0"

// Status codes returned on the stack by the host functions below that report
// a status. Unlike the teacher's per-function ad hoc 0/-1/0xFFFFFFFF
// conventions (internal/wasm/spacetime.go), each such call returns one of
// these five; datastore_delete_all_by_eq_bsatn returns a count, iter_start
// and index_scan_range return a handle (0 on failure), and console_log,
// identity, connection_id and volatile_nonatomic_schedule_immediate return
// nothing.
const (
	StatusOK            uint32 = 0
	StatusNotFound      uint32 = 1
	StatusBufferTooSmall uint32 = 2
	StatusConstraintErr uint32 = 3
	StatusEOF           uint32 = 4
)

// Host builds the spacetime_10.0 host module. One Host is shared by every
// module instance; all per-call state lives in CallContext instead, unlike
// the teacher's spacetimeModule which closed over a single *Runtime.
type Host struct{}

// NewHost returns a Host ready to instantiate.
func NewHost() *Host { return &Host{} }

// Instantiate registers every host capability with r, mirroring the
// teacher's spacetimeModule.Instantiate structure (one NewFunctionBuilder
// call per export) but dispatching through CallContext/internal/storage
// instead of a fixed Runtime.db.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(HostModuleName)

	reg := func(name string, params, results []api.ValueType, fn func(context.Context, api.Module, []uint64)) {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(fn), params, results).
			Export(name)
	}

	i32 := api.ValueTypeI32

	reg("console_log", []api.ValueType{i32, i32, i32, i32, i32}, nil, h.consoleLog)
	reg("table_id_from_name", []api.ValueType{i32, i32, i32}, []api.ValueType{i32}, h.tableIDFromName)
	reg("datastore_insert_bsatn", []api.ValueType{i32, i32, i32}, []api.ValueType{i32}, h.datastoreInsertBsatn)
	reg("datastore_update_bsatn", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, h.datastoreUpdateBsatn)
	reg("datastore_delete_all_by_eq_bsatn", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, h.datastoreDeleteAllByEqBsatn)
	reg("iter_start", []api.ValueType{i32}, []api.ValueType{i32}, h.iterStart)
	reg("iter_next", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, h.iterNext)
	reg("index_scan_range", []api.ValueType{i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}, h.indexScanRange)
	reg("identity", []api.ValueType{i32}, nil, h.identity)
	reg("connection_id", []api.ValueType{i32}, nil, h.connectionID)
	reg("volatile_nonatomic_schedule_immediate", []api.ValueType{i32, i32, i32, i32}, nil, h.scheduleImmediate)

	_, err := b.Instantiate(ctx)
	return err
}

func (h *Host) consoleLog(ctx context.Context, mod api.Module, stack []uint64) {
	level := uint32(stack[0])
	targetPtr, targetLen := uint32(stack[1]), uint32(stack[2])
	msgPtr, msgLen := uint32(stack[3]), uint32(stack[4])

	target, _ := ReadMemory(mod.Memory(), targetPtr, targetLen)
	msg, err := ReadMemory(mod.Memory(), msgPtr, msgLen)
	if err != nil {
		return
	}
	logEventForLevel(level).Str("target", string(target)).Msg(string(msg))
}

// logEventForLevel maps the five console_log levels of spec.md §4.3 onto
// zerolog's levels, the same five names used for every other log line in
// this codebase.
func logEventForLevel(level uint32) *zerolog.Event {
	switch level {
	case 0:
		return log.Error()
	case 1:
		return log.Warn()
	case 2:
		return log.Info()
	case 3:
		return log.Debug()
	default:
		return log.Trace()
	}
}

func (h *Host) tableIDFromName(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen, outPtr := uint32(stack[0]), uint32(stack[1]), uint32(stack[2])
	cc := callContextFrom(ctx)
	name, err := ReadMemory(mod.Memory(), namePtr, nameLen)
	if err != nil {
		stack[0] = uint64(StatusNotFound)
		return
	}
	table, ok := cc.DB.TableByName(string(name))
	if !ok {
		stack[0] = uint64(StatusNotFound)
		return
	}
	if err := WriteU32(mod.Memory(), outPtr, uint32(table.ID())); err != nil {
		stack[0] = uint64(StatusNotFound)
		return
	}
	stack[0] = uint64(StatusOK)
}

func (h *Host) datastoreInsertBsatn(ctx context.Context, mod api.Module, stack []uint64) {
	tableID, rowPtr, rowLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2])
	cc := callContextFrom(ctx)
	table, ok := cc.DB.Table(types.TableID(tableID))
	if !ok {
		stack[0] = uint64(StatusNotFound)
		return
	}
	raw, err := ReadMemory(mod.Memory(), rowPtr, rowLen)
	if err != nil {
		stack[0] = uint64(StatusNotFound)
		return
	}
	val, _, err := bsatn.Decode(raw, table.Schema().RowType)
	if err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	filled, err := table.Insert(cc.Tx, val)
	if err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	out, err := bsatn.Encode(filled, table.Schema().RowType)
	if err != nil || len(out) != int(rowLen) {
		// Fixed-width auto-inc fields never change the row's encoded
		// length; a mismatch means the schema has a variable-width
		// auto-inc column, which spec.md §4.4 disallows.
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	if _, err := WriteMemory(mod.Memory(), rowPtr, out, rowLen); err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	stack[0] = uint64(StatusOK)
}

func (h *Host) datastoreUpdateBsatn(ctx context.Context, mod api.Module, stack []uint64) {
	tableID, _ /* pkIndexID */, rowPtr, rowLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])
	cc := callContextFrom(ctx)
	table, ok := cc.DB.Table(types.TableID(tableID))
	if !ok {
		stack[0] = uint64(StatusNotFound)
		return
	}
	raw, err := ReadMemory(mod.Memory(), rowPtr, rowLen)
	if err != nil {
		stack[0] = uint64(StatusNotFound)
		return
	}
	val, _, err := bsatn.Decode(raw, table.Schema().RowType)
	if err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	pkName, ok := table.Schema().PrimaryKeyColumn()
	if !ok {
		stack[0] = uint64(StatusNotFound)
		return
	}
	pkIdx := table.Schema().ColumnIndex(pkName)
	updated, err := table.UpdateByPrimaryKey(cc.Tx, val.Elements[pkIdx], val)
	if err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	out, err := bsatn.Encode(updated, table.Schema().RowType)
	if err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	if _, err := WriteMemory(mod.Memory(), rowPtr, out, rowLen); err != nil {
		stack[0] = uint64(StatusConstraintErr)
		return
	}
	stack[0] = uint64(StatusOK)
}

func (h *Host) datastoreDeleteAllByEqBsatn(ctx context.Context, mod api.Module, stack []uint64) {
	tableID, colIdx, valPtr, valLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])
	cc := callContextFrom(ctx)
	table, ok := cc.DB.Table(types.TableID(tableID))
	if !ok {
		stack[0] = uint64(0)
		return
	}
	if int(colIdx) >= len(table.Schema().Columns) {
		stack[0] = uint64(0)
		return
	}
	colName := table.Schema().Columns[colIdx].Name
	colType := table.Schema().RowType.Elements[colIdx].Type
	raw, err := ReadMemory(mod.Memory(), valPtr, valLen)
	if err != nil {
		stack[0] = uint64(0)
		return
	}
	val, _, err := bsatn.Decode(raw, colType)
	if err != nil {
		stack[0] = uint64(0)
		return
	}
	var count uint32
	for {
		deleted, err := table.DeleteByColumn(cc.Tx, colName, val)
		if err != nil || !deleted {
			break
		}
		count++
	}
	stack[0] = uint64(count)
}

func (h *Host) iterStart(ctx context.Context, mod api.Module, stack []uint64) {
	tableID := uint32(stack[0])
	cc := callContextFrom(ctx)
	table, ok := cc.DB.Table(types.TableID(tableID))
	if !ok {
		stack[0] = uint64(0)
		return
	}
	rows := table.Iter(cc.Tx)
	encoded := make([][]byte, 0, len(rows))
	for _, r := range rows {
		b, err := bsatn.Encode(r, table.Schema().RowType)
		if err != nil {
			continue
		}
		encoded = append(encoded, b)
	}
	stack[0] = uint64(cc.iterators.Start(encoded))
}

func (h *Host) iterNext(ctx context.Context, mod api.Module, stack []uint64) {
	handle, outPtr, outCap, outLenPtr := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])
	cc := callContextFrom(ctx)
	row, ok := cc.iterators.Next(handle)
	if !ok {
		stack[0] = uint64(StatusEOF)
		return
	}
	if uint32(len(row)) > outCap {
		stack[0] = uint64(StatusBufferTooSmall)
		return
	}
	if _, err := WriteMemory(mod.Memory(), outPtr, row, outCap); err != nil {
		stack[0] = uint64(StatusBufferTooSmall)
		return
	}
	if err := WriteU32(mod.Memory(), outLenPtr, uint32(len(row))); err != nil {
		stack[0] = uint64(StatusBufferTooSmall)
		return
	}
	stack[0] = uint64(StatusOK)
}

func (h *Host) indexScanRange(ctx context.Context, mod api.Module, stack []uint64) {
	tableID, colIdx, loPtr, loLen, hiPtr, hiLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3]), uint32(stack[4]), uint32(stack[5])
	cc := callContextFrom(ctx)
	table, ok := cc.DB.Table(types.TableID(tableID))
	if !ok || int(colIdx) >= len(table.Schema().Columns) {
		stack[0] = uint64(0)
		return
	}
	colName := table.Schema().Columns[colIdx].Name
	var lo, hi []byte
	if loLen > 0 {
		lo, _ = ReadMemory(mod.Memory(), loPtr, loLen)
	}
	if hiLen > 0 {
		hi, _ = ReadMemory(mod.Memory(), hiPtr, hiLen)
	}
	rows, err := table.IndexScanRange(cc.Tx, colName, lo, hi)
	if err != nil {
		stack[0] = uint64(0)
		return
	}
	encoded := make([][]byte, 0, len(rows))
	for _, r := range rows {
		b, err := bsatn.Encode(r, table.Schema().RowType)
		if err != nil {
			continue
		}
		encoded = append(encoded, b)
	}
	stack[0] = uint64(cc.iterators.Start(encoded))
}

func (h *Host) identity(ctx context.Context, mod api.Module, stack []uint64) {
	outPtr := uint32(stack[0])
	cc := callContextFrom(ctx)
	WriteMemory(mod.Memory(), outPtr, cc.ModuleIdentity[:], 32)
}

func (h *Host) connectionID(ctx context.Context, mod api.Module, stack []uint64) {
	outPtr := uint32(stack[0])
	cc := callContextFrom(ctx)
	WriteMemory(mod.Memory(), outPtr, cc.SenderConnectionID[:], 16)
}

func (h *Host) scheduleImmediate(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen, argsPtr, argsLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])
	cc := callContextFrom(ctx)
	name, err := ReadMemory(mod.Memory(), namePtr, nameLen)
	if err != nil {
		return
	}
	args, err := ReadMemory(mod.Memory(), argsPtr, argsLen)
	if err != nil {
		return
	}
	cc.scheduled = append(cc.scheduled, ScheduledImmediate{ReducerName: string(name), Args: args})
}
