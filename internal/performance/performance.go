// Package performance 维护交易绩效指标、逐笔记录与周期快照。
// 指标的盈亏合计从均值反推，均值为空时回退到截断后的总盈亏。
package performance

import (
	"fmt"
	"math"
	"strings"
)

// Metrics 是策略的累计绩效指标
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalProfit   float64 `json:"total_profit"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	ProfitFactor  float64 `json:"profit_factor"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
}

// NewMetrics 创建零值指标
func NewMetrics() *Metrics {
	return &Metrics{}
}

// UpdateTrade 记录一笔已完成交易的盈亏并重算衍生指标
func (m *Metrics) UpdateTrade(profit float64) {
	m.TotalTrades++
	m.TotalProfit += profit

	if profit > 0 {
		m.WinningTrades++
		if profit > m.LargestWin {
			m.LargestWin = profit
		}
	} else if profit < 0 {
		m.LosingTrades++
		if profit < m.LargestLoss {
			m.LargestLoss = profit
		}
	}

	m.calculateDerivedMetrics()
}

// calculateDerivedMetrics 重算胜率、平均盈亏与盈利因子。
// 盈利因子仅在存在亏损时更新，否则保持当前值。
func (m *Metrics) calculateDerivedMetrics() {
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100.0
	}

	if m.WinningTrades > 0 {
		m.AverageWin = m.TotalWins() / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.TotalLosses() / float64(m.LosingTrades)
	}

	if math.Abs(m.TotalLosses()) > 0 {
		m.ProfitFactor = m.TotalWins() / math.Abs(m.TotalLosses())
	}
}

// TotalWins 返回累计盈利额，均值未建立时回退到 max(总盈亏, 0)
func (m *Metrics) TotalWins() float64 {
	if m.WinningTrades > 0 && m.AverageWin > 0 {
		return m.AverageWin * float64(m.WinningTrades)
	}
	return math.Max(m.TotalProfit, 0)
}

// TotalLosses 返回累计亏损额 (负值)，均值未建立时回退到 min(总盈亏, 0)
func (m *Metrics) TotalLosses() float64 {
	if m.LosingTrades > 0 && m.AverageLoss < 0 {
		return m.AverageLoss * float64(m.LosingTrades)
	}
	return math.Min(m.TotalProfit, 0)
}

// UpdateDrawdown 记录回撤，只增不减
func (m *Metrics) UpdateDrawdown(current float64) {
	if current > m.MaxDrawdown {
		m.MaxDrawdown = current
	}
}

// CalculateSharpeRatio 按收益率序列计算夏普比率。
// 样本不足 2 个或标准差为 0 时结果为 0，标准差使用 n-1 分母。
func (m *Metrics) CalculateSharpeRatio(returns []float64, riskFreeRate float64) {
	if len(returns) < 2 {
		m.SharpeRatio = 0
		return
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		diff := r - mean
		sumSq += diff * diff
	}
	stdDev := math.Sqrt(sumSq / float64(len(returns)-1))

	if stdDev > 0 {
		m.SharpeRatio = (mean - riskFreeRate) / stdDev
	} else {
		m.SharpeRatio = 0
	}
}

// IsPerformingWell 判断策略表现是否达标
func (m *Metrics) IsPerformingWell() bool {
	return m.WinRate >= 50.0 &&
		m.ProfitFactor >= 1.2 &&
		m.MaxDrawdown <= 0.2 &&
		m.TotalProfit > 0
}

// RiskScore 计算风险评分 (0-100, 100 为最高风险)。
// 权重: 回撤 40%, 胜率 30%, 盈利因子 20%, 夏普比率 10%。
func (m *Metrics) RiskScore() float64 {
	score := math.Min(m.MaxDrawdown*100.0, 100.0) * 0.4

	var winRateRisk float64
	switch {
	case m.WinRate >= 60.0:
		winRateRisk = 0
	case m.WinRate >= 40.0:
		winRateRisk = (60.0 - m.WinRate) * 2.0
	default:
		winRateRisk = 40.0 + (40.0 - m.WinRate)
	}
	score += winRateRisk * 0.3

	var profitFactorRisk float64
	switch {
	case m.ProfitFactor >= 1.5:
		profitFactorRisk = 0
	case m.ProfitFactor >= 1.0:
		profitFactorRisk = (1.5 - m.ProfitFactor) * 40.0
	default:
		profitFactorRisk = 60.0 + (1.0-m.ProfitFactor)*40.0
	}
	score += profitFactorRisk * 0.2

	var sharpeRisk float64
	switch {
	case m.SharpeRatio >= 1.0:
		sharpeRisk = 0
	case m.SharpeRatio >= 0:
		sharpeRisk = (1.0 - m.SharpeRatio) * 30.0
	default:
		sharpeRisk = 30.0 + math.Abs(m.SharpeRatio)*20.0
	}
	score += sharpeRisk * 0.1

	return math.Min(score, 100.0)
}

// Summary 生成指标摘要
func (m *Metrics) Summary() string {
	var b strings.Builder
	b.WriteString("性能摘要:\n")
	fmt.Fprintf(&b, "总交易数: %d\n", m.TotalTrades)
	fmt.Fprintf(&b, "盈利交易: %d (%.1f%%)\n", m.WinningTrades, m.WinRate)
	fmt.Fprintf(&b, "亏损交易: %d (%.1f%%)\n", m.LosingTrades, 100.0-m.WinRate)
	fmt.Fprintf(&b, "总盈利: %.4f\n", m.TotalProfit)
	fmt.Fprintf(&b, "最大回撤: %.2f%%\n", m.MaxDrawdown*100.0)
	fmt.Fprintf(&b, "夏普比率: %.2f\n", m.SharpeRatio)
	fmt.Fprintf(&b, "盈利因子: %.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "平均盈利: %.4f\n", m.AverageWin)
	fmt.Fprintf(&b, "平均亏损: %.4f\n", m.AverageLoss)
	fmt.Fprintf(&b, "最大单笔盈利: %.4f\n", m.LargestWin)
	fmt.Fprintf(&b, "最大单笔亏损: %.4f", m.LargestLoss)
	return b.String()
}

// Reset 清零全部指标
func (m *Metrics) Reset() {
	*m = Metrics{}
}
