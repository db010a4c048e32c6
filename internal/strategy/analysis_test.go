package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func flatPrices(n int, price float64) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = price
	}
	return prices
}

func TestMovingAverageFallsBackOnShortHistory(t *testing.T) {
	assert.Zero(t, CalculateMovingAverage(nil, 7))
	assert.InDelta(t, 15.0, CalculateMovingAverage([]float64{10, 20}, 7), 1e-9)
	assert.InDelta(t, 20.0, CalculateMovingAverage([]float64{10, 10, 20, 20, 20}, 3), 1e-9)
}

func TestRSISamples(t *testing.T) {
	// 样本不足返回中性值
	assert.Equal(t, 50.0, CalculateRSI([]float64{100, 101}, 14))

	// 没有下跌时返回 100
	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	assert.Equal(t, 100.0, CalculateRSI(rising, 14))

	// 涨跌各半时 RSI 居中
	alternating := []float64{100, 102, 100, 102, 100, 102, 100, 102, 100, 102, 100, 102, 100, 102, 100}
	assert.InDelta(t, 50.0, CalculateRSI(alternating, 14), 1e-9)
}

func TestAnalyzeMarketNeutralOnShortHistory(t *testing.T) {
	analysis := AnalyzeMarket([]float64{100, 101, 102})
	assert.Equal(t, TrendSideways, analysis.Trend)
	assert.Equal(t, 50.0, analysis.RSI)
	assert.InDelta(t, 102.0, analysis.ShortMA, 1e-9)
	assert.InDelta(t, 102.0, analysis.LongMA, 1e-9)
}

func TestAnalyzeMarketUptrend(t *testing.T) {
	prices := flatPrices(18, 100)
	prices = append(prices, 110, 115, 120, 125, 130, 135, 140)

	analysis := AnalyzeMarket(prices)
	assert.Equal(t, TrendUpward, analysis.Trend)
	assert.Greater(t, analysis.RSI, 55.0)
	assert.Greater(t, analysis.ShortMA, analysis.LongMA*1.05)
	assert.InDelta(t, (140.0-120.0)/120.0, analysis.PriceChange5Pt, 1e-9)
}

func TestAnalyzeMarketDowntrend(t *testing.T) {
	prices := flatPrices(18, 100)
	prices = append(prices, 90, 85, 80, 75, 70, 65, 60)

	analysis := AnalyzeMarket(prices)
	assert.Equal(t, TrendDownward, analysis.Trend)
	assert.Less(t, analysis.RSI, 45.0)
	assert.Less(t, analysis.ShortMA, analysis.LongMA*0.95)
}

func TestAnalyzeMarketSidewaysOnFlatHistory(t *testing.T) {
	analysis := AnalyzeMarket(flatPrices(30, 100))
	assert.Equal(t, TrendSideways, analysis.Trend)
	assert.InDelta(t, 100.0, analysis.ShortMA, 1e-9)
	assert.Zero(t, analysis.Volatility)
	assert.Zero(t, analysis.PriceChange5Pt)
}

func TestTrendString(t *testing.T) {
	assert.Equal(t, "上涨", TrendUpward.String())
	assert.Equal(t, "下跌", TrendDownward.String())
	assert.Equal(t, "震荡", TrendSideways.String())
}
