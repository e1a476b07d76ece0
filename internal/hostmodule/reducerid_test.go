package hostmodule

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/moduledesc"
	"github.com/stretchr/testify/assert"
)

func TestAssignReducerIDsStartsAtOneInDeclarationOrder(t *testing.T) {
	desc := moduledesc.ModuleDesc{
		Reducers: []moduledesc.ReducerDesc{
			{Name: "init", Args: bsatn.Product()},
			{Name: "create_player", Args: bsatn.Product()},
			{Name: "delete_player", Args: bsatn.Product()},
		},
	}

	byName, byID := assignReducerIDs(desc)

	assert.Equal(t, uint32(1), byName["init"])
	assert.Equal(t, uint32(2), byName["create_player"])
	assert.Equal(t, uint32(3), byName["delete_player"])
	assert.Equal(t, "create_player", byID[2].Name)
	assert.NotContains(t, byID, uint32(0))
}

func TestReducerRNGSeedIsDeterministic(t *testing.T) {
	a := reducerRNGSeed(42, 7)
	b := reducerRNGSeed(42, 7)
	assert.Equal(t, a, b)
}

func TestReducerRNGSeedVariesWithInputs(t *testing.T) {
	base := reducerRNGSeed(42, 7)
	assert.NotEqual(t, base, reducerRNGSeed(43, 7))
	assert.NotEqual(t, base, reducerRNGSeed(42, 8))
}
