package moduledesc

import "github.com/clockworklabs/stdb-core/internal/bsatn"

// Encode serializes a ModuleDesc into the bytes __describe_module__ returns
// on the wire. Every string is length-prefixed (u32 count, raw bytes) and
// every list is count-prefixed, following the same little-endian, no-tag
// convention as BSATN value encoding; algebraic types embedded in row/args
// fields use bsatn.EncodeType rather than bsatn.Encode, since these are
// type descriptions, not typed values.
func Encode(m ModuleDesc) []byte {
	w := newRawWriter()
	w.u32(uint32(len(m.Tables)))
	for _, t := range m.Tables {
		encodeTable(w, t)
	}
	w.u32(uint32(len(m.Reducers)))
	for _, r := range m.Reducers {
		encodeReducer(w, r)
	}
	return w.bytes
}

func encodeTable(w *rawWriter, t TableDesc) {
	w.str(t.Name)
	w.raw(bsatn.EncodeType(t.RowType))
	w.u32(uint32(len(t.Columns)))
	for _, c := range t.Columns {
		w.str(c.Name)
		w.boolean(c.PrimaryKey)
		w.boolean(c.Unique)
		w.boolean(c.AutoIncrement)
	}
	w.u32(uint32(len(t.Indexes)))
	for _, idx := range t.Indexes {
		w.str(idx.Name)
		w.str(idx.Column)
	}
	w.boolean(t.Private)
	if t.Schedule != nil {
		w.boolean(true)
		w.str(t.Schedule.ReducerName)
		w.str(t.Schedule.ScheduledAtCol)
	} else {
		w.boolean(false)
	}
}

func encodeReducer(w *rawWriter, r ReducerDesc) {
	w.str(r.Name)
	w.u8(uint8(r.Kind))
	w.raw(bsatn.EncodeType(r.Args))
}

// Decode is the inverse of Encode.
func Decode(b []byte) (ModuleDesc, error) {
	r := &rawReader{buf: b}
	var m ModuleDesc

	tableCount, err := r.u32()
	if err != nil {
		return m, err
	}
	m.Tables = make([]TableDesc, tableCount)
	for i := range m.Tables {
		t, err := decodeTable(r)
		if err != nil {
			return m, err
		}
		m.Tables[i] = t
	}

	reducerCount, err := r.u32()
	if err != nil {
		return m, err
	}
	m.Reducers = make([]ReducerDesc, reducerCount)
	for i := range m.Reducers {
		rd, err := decodeReducer(r)
		if err != nil {
			return m, err
		}
		m.Reducers[i] = rd
	}

	return m, nil
}

func decodeTable(r *rawReader) (TableDesc, error) {
	var t TableDesc
	name, err := r.str()
	if err != nil {
		return t, err
	}
	t.Name = name

	rowType, n, err := bsatn.DecodeType(r.buf[r.pos:])
	if err != nil {
		return t, err
	}
	r.pos += n
	t.RowType = rowType

	colCount, err := r.u32()
	if err != nil {
		return t, err
	}
	t.Columns = make([]ColumnDesc, colCount)
	for i := range t.Columns {
		name, err := r.str()
		if err != nil {
			return t, err
		}
		pk, err := r.boolean()
		if err != nil {
			return t, err
		}
		uniq, err := r.boolean()
		if err != nil {
			return t, err
		}
		auto, err := r.boolean()
		if err != nil {
			return t, err
		}
		t.Columns[i] = ColumnDesc{Name: name, PrimaryKey: pk, Unique: uniq, AutoIncrement: auto}
	}

	idxCount, err := r.u32()
	if err != nil {
		return t, err
	}
	t.Indexes = make([]IndexDesc, idxCount)
	for i := range t.Indexes {
		name, err := r.str()
		if err != nil {
			return t, err
		}
		col, err := r.str()
		if err != nil {
			return t, err
		}
		t.Indexes[i] = IndexDesc{Name: name, Column: col}
	}

	private, err := r.boolean()
	if err != nil {
		return t, err
	}
	t.Private = private

	hasSchedule, err := r.boolean()
	if err != nil {
		return t, err
	}
	if hasSchedule {
		reducerName, err := r.str()
		if err != nil {
			return t, err
		}
		col, err := r.str()
		if err != nil {
			return t, err
		}
		t.Schedule = &ScheduleDesc{ReducerName: reducerName, ScheduledAtCol: col}
	}

	return t, nil
}

func decodeReducer(r *rawReader) (ReducerDesc, error) {
	var rd ReducerDesc
	name, err := r.str()
	if err != nil {
		return rd, err
	}
	rd.Name = name

	kind, err := r.u8()
	if err != nil {
		return rd, err
	}
	rd.Kind = ReducerKind(kind)

	argsType, n, err := bsatn.DecodeType(r.buf[r.pos:])
	if err != nil {
		return rd, err
	}
	r.pos += n
	rd.Args = argsType

	return rd, nil
}
