package strategy

// CalculateVolatility 基于相邻价格的涨跌幅估算市场波动率。
// 将相邻两点的相对变化分为上涨和下跌两组，分别取平均后再求均值。
// 样本不足两个时返回 0。
func CalculateVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	var upMoves, downMoves []float64
	for i := 0; i < len(prices)-1; i++ {
		change := (prices[i+1] - prices[i]) / prices[i]
		if change > 0 {
			upMoves = append(upMoves, change)
		} else {
			downMoves = append(downMoves, -change)
		}
	}

	avgUp := 0.0
	if len(upMoves) > 0 {
		for _, v := range upMoves {
			avgUp += v
		}
		avgUp /= float64(len(upMoves))
	}

	avgDown := 0.0
	if len(downMoves) > 0 {
		for _, v := range downMoves {
			avgDown += v
		}
		avgDown /= float64(len(downMoves))
	}

	return (avgUp + avgDown) / 2
}

// CalculateGridSpacing 根据近期波动率计算网格间距，并夹取到配置的上下限内。
// 价格样本不足时直接使用最小间距。
func CalculateGridSpacing(prices []float64, minSpacing, maxSpacing float64) float64 {
	if len(prices) < 2 {
		return minSpacing
	}
	volatility := CalculateVolatility(prices)
	if volatility < minSpacing {
		return minSpacing
	}
	if volatility > maxSpacing {
		return maxSpacing
	}
	return volatility
}
