package reporter

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"binance-grid-trader-go/internal/exchange"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalFees        float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	AvgHoldDuration  time.Duration
	MaxDrawdown      float64
	SharpeRatio      float64
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 根据回测交易所的最终状态计算性能指标并打印成表格
func GenerateReport(be *exchange.BacktestExchange, dataPath string, startTime, endTime time.Time) {
	m := CalculateMetrics(be)
	m.StartTime = startTime
	m.EndTime = endTime

	overview := table.NewWriter()
	overview.SetOutputMirror(os.Stdout)
	overview.SetStyle(table.StyleLight)
	overview.SetTitle("回测结果报告")
	overview.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"回测周期", fmt.Sprintf("%s 至 %s",
			m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"周期时长", m.EndTime.Sub(m.StartTime).Round(time.Minute)},
	})
	overview.Render()

	capital := table.NewWriter()
	capital.SetOutputMirror(os.Stdout)
	capital.SetStyle(table.StyleLight)
	capital.SetTitle("资金指标")
	capital.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USDT", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f USDT", m.FinalBalance)},
		{"总利润", fmt.Sprintf("%.2f USDT", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"累计手续费", fmt.Sprintf("%.4f USDT", m.TotalFees)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown*100)},
		{"夏普比率", fmt.Sprintf("%.4f", m.SharpeRatio)},
	})
	capital.Render()

	trades := table.NewWriter()
	trades.SetOutputMirror(os.Stdout)
	trades.SetStyle(table.StyleLight)
	trades.SetTitle("交易统计")
	trades.AppendRows([]table.Row{
		{"总平仓次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"平均持仓时长", m.AvgHoldDuration.Round(time.Second)},
	})
	trades.Render()
}

// CalculateMetrics 从回测交易所的交易日志与权益曲线中汇总回测指标
func CalculateMetrics(be *exchange.BacktestExchange) *Metrics {
	m := &Metrics{
		InitialBalance: be.InitialBalance(),
		FinalBalance:   be.CurrentEquity(),
		TotalFees:      be.TotalFees(),
	}

	tradeLog := be.TradeLog()
	m.TotalTrades = len(tradeLog)

	var totalWin, totalLoss float64
	var totalHold time.Duration
	for _, trade := range tradeLog {
		if trade.Profit > 0 {
			m.WinningTrades++
			totalWin += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
		totalHold += trade.HoldDuration
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgHoldDuration = totalHold / time.Duration(m.TotalTrades)
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalWin / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(be.EquityCurve())
	m.SharpeRatio = dailySharpeRatio(be.DailyEquity())

	return m
}

// calculateMaxDrawdown 在权益曲线上按峰值口径计算最大回撤比例
func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// dailySharpeRatio 从每日权益序列计算日收益的夏普比率 (无风险利率取0，
// 样本标准差)。样本不足两日时返回0。
func dailySharpeRatio(dailyEquity map[string]float64) float64 {
	if len(dailyEquity) < 3 {
		return 0
	}

	days := make([]string, 0, len(dailyEquity))
	for day := range dailyEquity {
		days = append(days, day)
	}
	sort.Strings(days)

	var returns []float64
	for i := 1; i < len(days); i++ {
		prev := dailyEquity[days[i-1]]
		if prev <= 0 {
			continue
		}
		returns = append(returns, (dailyEquity[days[i]]-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
