package strategy

import "math"

// MarketTrend 表示市场趋势的分类结果
type MarketTrend int

const (
	TrendSideways MarketTrend = iota // 震荡
	TrendUpward                      // 上涨
	TrendDownward                    // 下跌
)

// String 返回趋势的中文描述
func (t MarketTrend) String() string {
	switch t {
	case TrendUpward:
		return "上涨"
	case TrendDownward:
		return "下跌"
	default:
		return "震荡"
	}
}

// MarketAnalysis 汇总了用于状态报告的市场指标
type MarketAnalysis struct {
	Volatility     float64     // 收益率标准差口径的波动率
	Trend          MarketTrend // 趋势分类
	RSI            float64     // 相对强弱指标 (14)
	ShortMA        float64     // 短期均线 (7)
	LongMA         float64     // 长期均线 (25)
	PriceChange5Pt float64     // 最近5个数据点的价格变化比例
}

// CalculateMovingAverage 计算最近 period 个价格的简单均线。
// 样本不足时退化为全部样本的均值。
func CalculateMovingAverage(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		return sum / float64(len(prices))
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

// CalculateRSI 计算相对强弱指标。样本不足时返回中性值 50。
func CalculateRSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	gains := 0.0
	losses := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}

	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - (100 / (1 + rs))
}

// statisticalVolatility 计算收益率的标准差并按样本数缩放，
// 仅用于市场分析报告，网格间距使用 CalculateVolatility。
func statisticalVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	changes := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes = append(changes, (prices[i]-prices[i-1])/prices[i-1])
	}

	mean := 0.0
	for _, c := range changes {
		mean += c
	}
	mean /= float64(len(changes))

	variance := 0.0
	for _, c := range changes {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(changes))

	return math.Sqrt(variance) * math.Sqrt(float64(len(prices)))
}

// AnalyzeMarket 基于价格历史计算趋势、RSI 与均线。
// 历史不足 25 个样本时返回中性的默认分析结果。
func AnalyzeMarket(prices []float64) MarketAnalysis {
	if len(prices) < 25 {
		last := 0.0
		if len(prices) > 0 {
			last = prices[len(prices)-1]
		}
		return MarketAnalysis{
			Trend:   TrendSideways,
			RSI:     50,
			ShortMA: last,
			LongMA:  last,
		}
	}

	shortMA := CalculateMovingAverage(prices, 7)
	longMA := CalculateMovingAverage(prices, 25)
	rsi := CalculateRSI(prices, 14)

	change5 := 0.0
	if len(prices) >= 5 {
		old := prices[len(prices)-5]
		change5 = (prices[len(prices)-1] - old) / old
	}

	trend := TrendSideways
	if shortMA > longMA*1.05 && rsi > 55 {
		trend = TrendUpward
	} else if shortMA < longMA*0.95 && rsi < 45 {
		trend = TrendDownward
	}

	return MarketAnalysis{
		Volatility:     statisticalVolatility(prices),
		Trend:          trend,
		RSI:            rsi,
		ShortMA:        shortMA,
		LongMA:         longMA,
		PriceChange5Pt: change5,
	}
}
