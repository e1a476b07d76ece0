package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnergyMeterExhaustsAfterBudget(t *testing.T) {
	m := NewEnergyMeter(3)
	assert.False(t, m.Exhausted())
	assert.Equal(t, int64(3), m.Remaining())

	for i := 0; i < 3; i++ {
		m.remaining.Add(-1)
	}
	assert.True(t, m.Exhausted())
}
