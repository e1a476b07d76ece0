package sql

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerRowType() bsatn.AlgebraicType {
	return bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "name", Type: bsatn.String()},
		bsatn.NamedType{Name: "online", Type: bsatn.Bool()},
	)
}

func TestCompileQuerySelectStarFromTable(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM player`, playerRowType())
	require.NoError(t, err)
	assert.False(t, q.AllTables)
	assert.Equal(t, "player", q.TableName)
	assert.IsType(t, subscription.AllRows{}, q.Predicate)
}

func TestCompileQuerySelectStarFromStar(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM *`, bsatn.AlgebraicType{})
	require.NoError(t, err)
	assert.True(t, q.AllTables)
}

func TestCompileQueryWhereEquality(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM player WHERE name = 'alice'`, playerRowType())
	require.NoError(t, err)
	cmp, ok := q.Predicate.(subscription.ColumnCompare)
	require.True(t, ok)
	assert.Equal(t, 1, cmp.ColumnIndex)
	assert.Equal(t, subscription.OpEq, cmp.Op)
	assert.Equal(t, "alice", cmp.Literal.Str)
}

func TestCompileQueryAndOr(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM player WHERE online = TRUE AND (id = 1 OR id = 2)`, playerRowType())
	require.NoError(t, err)
	_, ok := q.Predicate.(subscription.And)
	require.True(t, ok)
}

func TestCompileQueryQuotedIdentifier(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM "player"`, playerRowType())
	require.NoError(t, err)
	assert.Equal(t, "player", q.TableName)
}

func TestParseRejectsWhereOnSelectStarFromStar(t *testing.T) {
	_, err := Parse(`SELECT * FROM * WHERE id = 1`)
	assert.Error(t, err)
}

func TestCompileQueryUnknownColumn(t *testing.T) {
	_, err := CompileQuery(`SELECT * FROM player WHERE nickname = 'x'`, playerRowType())
	assert.Error(t, err)
}

func TestCompileQueryRejectsTrailingInput(t *testing.T) {
	_, err := Parse(`SELECT * FROM player garbage`)
	assert.Error(t, err)
}

func TestCompileQueryNumericComparison(t *testing.T) {
	q, err := CompileQuery(`SELECT * FROM player WHERE id >= 42`, playerRowType())
	require.NoError(t, err)
	cmp, ok := q.Predicate.(subscription.ColumnCompare)
	require.True(t, ok)
	assert.Equal(t, subscription.OpGe, cmp.Op)
	assert.Equal(t, uint64(42), cmp.Literal.U64)
}
