package moduledesc

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playerDesc() ModuleDesc {
	rowType := bsatn.Product(
		bsatn.NamedType{Name: "id", Type: bsatn.U64()},
		bsatn.NamedType{Name: "name", Type: bsatn.String()},
	)
	return ModuleDesc{
		Tables: []TableDesc{{
			Name:    "player",
			RowType: rowType,
			Columns: []ColumnDesc{
				{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true},
				{Name: "name", Unique: true},
			},
			Indexes: []IndexDesc{{Name: "player_name_idx", Column: "name"}},
		}},
		Reducers: []ReducerDesc{
			{Name: "init", Kind: ReducerKindInit, Args: bsatn.Product()},
			{Name: "create_player", Kind: ReducerKindNormal, Args: bsatn.Product(bsatn.NamedType{Name: "name", Type: bsatn.String()})},
		},
	}
}

func TestModuleDescWireRoundTrip(t *testing.T) {
	desc := playerDesc()
	encoded := Encode(desc)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Tables, 1)
	assert.Equal(t, "player", decoded.Tables[0].Name)
	assert.True(t, decoded.Tables[0].RowType.Equal(desc.Tables[0].RowType))
	assert.Equal(t, desc.Tables[0].Columns, decoded.Tables[0].Columns)
	assert.Equal(t, desc.Tables[0].Indexes, decoded.Tables[0].Indexes)

	require.Len(t, decoded.Reducers, 2)
	assert.Equal(t, "init", decoded.Reducers[0].Name)
	assert.Equal(t, ReducerKindInit, decoded.Reducers[0].Kind)
	assert.True(t, decoded.Reducers[1].Args.Equal(desc.Reducers[1].Args))
}

func TestModuleDescValidateAcceptsWellFormedSchema(t *testing.T) {
	desc := playerDesc()
	assert.NoError(t, desc.Validate())
}

func TestModuleDescValidateRejectsNonIntegerAutoInc(t *testing.T) {
	desc := ModuleDesc{
		Tables: []TableDesc{{
			Name:    "bad",
			RowType: bsatn.Product(bsatn.NamedType{Name: "id", Type: bsatn.String()}),
			Columns: []ColumnDesc{{Name: "id", PrimaryKey: true, Unique: true, AutoIncrement: true}},
		}},
	}
	assert.Error(t, desc.Validate())
}

func TestModuleDescValidateRejectsMultiplePrimaryKeys(t *testing.T) {
	desc := ModuleDesc{
		Tables: []TableDesc{{
			Name: "bad",
			RowType: bsatn.Product(
				bsatn.NamedType{Name: "a", Type: bsatn.U64()},
				bsatn.NamedType{Name: "b", Type: bsatn.U64()},
			),
			Columns: []ColumnDesc{
				{Name: "a", PrimaryKey: true, Unique: true},
				{Name: "b", PrimaryKey: true, Unique: true},
			},
		}},
	}
	assert.Error(t, desc.Validate())
}

func TestModuleDescValidateRejectsUnknownIndexColumn(t *testing.T) {
	desc := ModuleDesc{
		Tables: []TableDesc{{
			Name:    "bad",
			RowType: bsatn.Product(bsatn.NamedType{Name: "a", Type: bsatn.U64()}),
			Columns: []ColumnDesc{{Name: "a"}},
			Indexes: []IndexDesc{{Name: "idx", Column: "missing"}},
		}},
	}
	assert.Error(t, desc.Validate())
}

func TestModuleDescValidateRejectsReducerArgsNotProduct(t *testing.T) {
	desc := ModuleDesc{
		Reducers: []ReducerDesc{{Name: "bad", Args: bsatn.U64()}},
	}
	assert.Error(t, desc.Validate())
}
