package httpapi

import "github.com/clockworklabs/stdb-core/internal/moduledesc"

// schemaDoc is the JSON shape served at GET /database/<name>/schema: a
// lossy but human/SDK-readable projection of moduledesc.ModuleDesc, whose
// AlgebraicType tree otherwise has no JSON-tagged fields of its own.
type schemaDoc struct {
	Tables   []tableDoc   `json:"tables"`
	Reducers []reducerDoc `json:"reducers"`
}

type columnDoc struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	PrimaryKey    bool   `json:"primary_key"`
	Unique        bool   `json:"unique"`
	AutoIncrement bool   `json:"auto_increment"`
}

type indexDoc struct {
	Name   string `json:"name"`
	Column string `json:"column"`
}

type tableDoc struct {
	Name     string      `json:"name"`
	Columns  []columnDoc `json:"columns"`
	Indexes  []indexDoc  `json:"indexes,omitempty"`
	Private  bool        `json:"private"`
	Schedule *struct {
		ReducerName    string `json:"reducer_name"`
		ScheduledAtCol string `json:"scheduled_at_column"`
	} `json:"schedule,omitempty"`
}

type reducerDoc struct {
	Name string   `json:"name"`
	Kind string   `json:"kind"`
	Args []string `json:"args"`
}

func describeSchema(desc moduledesc.ModuleDesc) schemaDoc {
	doc := schemaDoc{
		Tables:   make([]tableDoc, 0, len(desc.Tables)),
		Reducers: make([]reducerDoc, 0, len(desc.Reducers)),
	}
	for _, t := range desc.Tables {
		rowFieldTypes := map[string]string{}
		for _, f := range t.RowType.Elements {
			rowFieldTypes[f.Name] = f.Type.Kind.String()
		}
		td := tableDoc{Name: t.Name, Private: t.Private}
		for _, c := range t.Columns {
			td.Columns = append(td.Columns, columnDoc{
				Name:          c.Name,
				Type:          rowFieldTypes[c.Name],
				PrimaryKey:    c.PrimaryKey,
				Unique:        c.Unique,
				AutoIncrement: c.AutoIncrement,
			})
		}
		for _, ix := range t.Indexes {
			td.Indexes = append(td.Indexes, indexDoc{Name: ix.Name, Column: ix.Column})
		}
		if t.Schedule != nil {
			td.Schedule = &struct {
				ReducerName    string `json:"reducer_name"`
				ScheduledAtCol string `json:"scheduled_at_column"`
			}{ReducerName: t.Schedule.ReducerName, ScheduledAtCol: t.Schedule.ScheduledAtCol}
		}
		doc.Tables = append(doc.Tables, td)
	}
	for _, r := range desc.Reducers {
		rd := reducerDoc{Name: r.Name, Kind: r.Kind.String()}
		for _, f := range r.Args.Elements {
			rd.Args = append(rd.Args, f.Name+":"+f.Type.Kind.String())
		}
		doc.Reducers = append(doc.Reducers, rd)
	}
	return doc
}
