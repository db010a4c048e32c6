package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolatilityInsufficientSamples(t *testing.T) {
	assert.Zero(t, CalculateVolatility(nil))
	assert.Zero(t, CalculateVolatility([]float64{100}))
}

func TestVolatilityMixedMoves(t *testing.T) {
	// 上涨组: 1%, 3.03%；下跌组: 1.98%
	// (0.0202 + 0.0198) / 2 ≈ 0.0200
	v := CalculateVolatility([]float64{100, 101, 99, 102})
	assert.InDelta(t, 0.0200, v, 1e-4)
}

func TestVolatilityOneSidedMoves(t *testing.T) {
	// 只有上涨时下跌组均值为 0，波动率为上涨均值的一半
	v := CalculateVolatility([]float64{100, 101, 102.01})
	assert.InDelta(t, 0.005, v, 1e-9)

	// 持平的相邻价格计入下跌组但贡献为 0
	v = CalculateVolatility([]float64{100, 100, 100})
	assert.Zero(t, v)
}

func TestGridSpacingUsesMinOnShortHistory(t *testing.T) {
	assert.Equal(t, 0.005, CalculateGridSpacing(nil, 0.005, 0.02))
	assert.Equal(t, 0.005, CalculateGridSpacing([]float64{100}, 0.005, 0.02))
}

func TestGridSpacingClampedToBounds(t *testing.T) {
	// 波动率低于下限时取下限
	calm := []float64{100, 100.01, 100.02, 100.01}
	assert.Equal(t, 0.005, CalculateGridSpacing(calm, 0.005, 0.02))

	// 波动率高于上限时取上限
	wild := []float64{100, 110, 95, 112}
	assert.Equal(t, 0.02, CalculateGridSpacing(wild, 0.005, 0.02))
}

func TestGridSpacingTracksVolatilityInRange(t *testing.T) {
	prices := []float64{100, 101, 99, 102}
	spacing := CalculateGridSpacing(prices, 0.005, 0.05)
	assert.InDelta(t, CalculateVolatility(prices), spacing, 1e-12)
	assert.Greater(t, spacing, 0.005)
	assert.Less(t, spacing, 0.05)
}
