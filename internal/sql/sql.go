package sql

import (
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/subscription"
)

// Query is one compiled SELECT, ready for the subscription engine or a
// one-off read.
type Query struct {
	AllTables bool
	TableName string
	Predicate subscription.Predicate
}

// CompileQuery parses src and, unless it is `SELECT * FROM *`, resolves
// its WHERE clause against rowType in one step.
func CompileQuery(src string, rowType bsatn.AlgebraicType) (Query, error) {
	parsed, err := Parse(src)
	if err != nil {
		return Query{}, err
	}
	if parsed.AllTables {
		return Query{AllTables: true}, nil
	}
	pred, err := Compile(parsed, rowType)
	if err != nil {
		return Query{}, err
	}
	return Query{TableName: parsed.TableName, Predicate: pred}, nil
}
