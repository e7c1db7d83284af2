package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWeights(t *testing.T) {
	uids, weights := NormalizeWeights(map[int]float64{1: 3, 2: 1})
	require.Equal(t, []uint16{1, 2}, uids)
	require.Equal(t, []uint16{49151, 16383}, weights)

	total := 0
	for _, w := range weights {
		total += int(w)
	}
	assert.LessOrEqual(t, total, 65535)
}

func TestNormalizeWeightsDropsNonPositive(t *testing.T) {
	uids, weights := NormalizeWeights(map[int]float64{1: 2, 2: 0, 3: -1})
	assert.Equal(t, []uint16{1}, uids)
	assert.Equal(t, []uint16{65535}, weights)
}

func TestNormalizeWeightsEmpty(t *testing.T) {
	uids, weights := NormalizeWeights(map[int]float64{})
	assert.Nil(t, uids)
	assert.Nil(t, weights)

	uids, weights = NormalizeWeights(map[int]float64{7: 0})
	assert.Nil(t, uids)
	assert.Nil(t, weights)
}

func TestNormalizeWeightsDropsDust(t *testing.T) {
	// A score small enough to floor to zero is dropped entirely.
	uids, weights := NormalizeWeights(map[int]float64{1: 1, 2: 0.000001})
	assert.Equal(t, []uint16{1}, uids)
	require.Len(t, weights, 1)
}
