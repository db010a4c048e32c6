package performance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record 是一笔交易事件的逐笔记录
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Price        float64   `json:"price"`
	Action       string    `json:"action"`
	Profit       float64   `json:"profit"`
	TotalCapital float64   `json:"total_capital"`
}

// NewRecord 创建交易记录
func NewRecord(price float64, action string, profit, totalCapital float64) Record {
	return Record{
		Timestamp:    time.Now(),
		Price:        price,
		Action:       action,
		Profit:       profit,
		TotalCapital: totalCapital,
	}
}

// BuyRecord 创建买入记录，买入时利润为 0
func BuyRecord(price, quantity, totalCapital float64) Record {
	return NewRecord(price, fmt.Sprintf("买入 %.4f @ %.4f", quantity, price), 0, totalCapital)
}

// SellRecord 创建卖出记录
func SellRecord(price, quantity, profit, totalCapital float64) Record {
	return NewRecord(price, fmt.Sprintf("卖出 %.4f @ %.4f", quantity, price), profit, totalCapital)
}

// AgeSeconds 返回记录距今的秒数
func (r Record) AgeSeconds() int64 {
	age := time.Since(r.Timestamp)
	if age < 0 {
		return 0
	}
	return int64(age.Seconds())
}

// IsWithinHours 判断记录是否在最近 hours 小时内
func (r Record) IsWithinHours(hours int64) bool {
	return r.AgeSeconds() <= hours*3600
}

// Snapshot 是某一时刻的绩效快照，创建后不再修改
type Snapshot struct {
	Timestamp            int64   `json:"timestamp"`
	TotalCapital         float64 `json:"total_capital"`
	AvailableFunds       float64 `json:"available_funds"`
	PositionQuantity     float64 `json:"position_quantity"`
	PositionAvgPrice     float64 `json:"position_avg_price"`
	RealizedProfit       float64 `json:"realized_profit"`
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	WinRate              float64 `json:"win_rate"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	ProfitFactor         float64 `json:"profit_factor"`
	TradingDurationHours float64 `json:"trading_duration_hours"`
	FinalROI             float64 `json:"final_roi"`
}

// SnapshotFromMetrics 结合指标与资金状态生成快照，ROI 以初始资金为基准
func SnapshotFromMetrics(m *Metrics, totalCapital, availableFunds, positionQuantity,
	positionAvgPrice, realizedProfit, tradingDurationHours, initialCapital float64) Snapshot {
	var roi float64
	if initialCapital > 0 {
		roi = (totalCapital - initialCapital) / initialCapital * 100.0
	}
	return Snapshot{
		Timestamp:            time.Now().Unix(),
		TotalCapital:         totalCapital,
		AvailableFunds:       availableFunds,
		PositionQuantity:     positionQuantity,
		PositionAvgPrice:     positionAvgPrice,
		RealizedProfit:       realizedProfit,
		TotalTrades:          m.TotalTrades,
		WinningTrades:        m.WinningTrades,
		WinRate:              m.WinRate,
		MaxDrawdown:          m.MaxDrawdown,
		SharpeRatio:          m.SharpeRatio,
		ProfitFactor:         m.ProfitFactor,
		TradingDurationHours: tradingDurationHours,
		FinalROI:             roi,
	}
}

// Report 生成快照报告
func (s Snapshot) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "性能快照报告 (%s)\n", time.Unix(s.Timestamp, 0).Format("2006-01-02 15:04:05"))
	b.WriteString("==================\n")
	fmt.Fprintf(&b, "总资金: %.4f\n", s.TotalCapital)
	fmt.Fprintf(&b, "可用资金: %.4f\n", s.AvailableFunds)
	fmt.Fprintf(&b, "持仓数量: %.4f\n", s.PositionQuantity)
	fmt.Fprintf(&b, "持仓均价: %.4f\n", s.PositionAvgPrice)
	fmt.Fprintf(&b, "已实现利润: %.4f\n", s.RealizedProfit)
	fmt.Fprintf(&b, "总交易数: %d\n", s.TotalTrades)
	fmt.Fprintf(&b, "盈利交易: %d\n", s.WinningTrades)
	fmt.Fprintf(&b, "胜率: %.1f%%\n", s.WinRate)
	fmt.Fprintf(&b, "最大回撤: %.2f%%\n", s.MaxDrawdown*100.0)
	fmt.Fprintf(&b, "夏普比率: %.2f\n", s.SharpeRatio)
	fmt.Fprintf(&b, "盈利因子: %.2f\n", s.ProfitFactor)
	fmt.Fprintf(&b, "交易时长: %.1f小时\n", s.TradingDurationHours)
	fmt.Fprintf(&b, "总收益率: %.2f%%", s.FinalROI)
	return b.String()
}

const (
	defaultMaxRecords   = 1000
	defaultMaxSnapshots = 100
)

// Analyzer 聚合指标、逐笔记录与快照，历史均为有界 FIFO
type Analyzer struct {
	Metrics      *Metrics
	records      []Record
	snapshots    []Snapshot
	maxRecords   int
	maxSnapshots int
}

// NewAnalyzer 创建性能分析器
func NewAnalyzer(maxRecords, maxSnapshots int) *Analyzer {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	if maxSnapshots <= 0 {
		maxSnapshots = defaultMaxSnapshots
	}
	return &Analyzer{
		Metrics:      NewMetrics(),
		maxRecords:   maxRecords,
		maxSnapshots: maxSnapshots,
	}
}

// NewDefaultAnalyzer 创建默认容量的分析器 (1000 条记录, 100 个快照)
func NewDefaultAnalyzer() *Analyzer {
	return NewAnalyzer(defaultMaxRecords, defaultMaxSnapshots)
}

// AddTradeRecord 记录一笔交易并同步更新指标
func (a *Analyzer) AddTradeRecord(record Record) {
	a.Metrics.UpdateTrade(record.Profit)
	a.records = append(a.records, record)
	if len(a.records) > a.maxRecords {
		a.records = a.records[1:]
	}
}

// AddSnapshot 追加一个快照
func (a *Analyzer) AddSnapshot(snapshot Snapshot) {
	a.snapshots = append(a.snapshots, snapshot)
	if len(a.snapshots) > a.maxSnapshots {
		a.snapshots = a.snapshots[1:]
	}
}

// Records 返回全部记录
func (a *Analyzer) Records() []Record { return a.records }

// Snapshots 返回全部快照
func (a *Analyzer) Snapshots() []Snapshot { return a.snapshots }

// RecentRecords 返回最近 hours 小时内的记录
func (a *Analyzer) RecentRecords(hours int64) []Record {
	var recent []Record
	for _, r := range a.records {
		if r.IsWithinHours(hours) {
			recent = append(recent, r)
		}
	}
	return recent
}

// CalculateReturns 由相邻记录的资金变化计算收益率序列
func (a *Analyzer) CalculateReturns() []float64 {
	if len(a.records) < 2 {
		return nil
	}
	var returns []float64
	for i := 1; i < len(a.records); i++ {
		prev := a.records[i-1].TotalCapital
		curr := a.records[i].TotalCapital
		if prev > 0 {
			returns = append(returns, (curr-prev)/prev)
		}
	}
	return returns
}

// UpdateSharpeRatio 用记录推导的收益率序列刷新夏普比率
func (a *Analyzer) UpdateSharpeRatio(riskFreeRate float64) {
	a.Metrics.CalculateSharpeRatio(a.CalculateReturns(), riskFreeRate)
}

// DetailedReport 生成带 24 小时统计与风险评分的详细报告
func (a *Analyzer) DetailedReport() string {
	recent := a.RecentRecords(24)
	var recentProfit float64
	for _, r := range recent {
		recentProfit += r.Profit
	}

	status := "需要关注"
	if a.Metrics.IsPerformingWell() {
		status = "良好"
	}

	var b strings.Builder
	b.WriteString(a.Metrics.Summary())
	b.WriteString("\n\n最近24小时统计:\n")
	fmt.Fprintf(&b, "交易次数: %d\n", len(recent))
	fmt.Fprintf(&b, "净利润: %.4f\n\n", recentProfit)
	fmt.Fprintf(&b, "风险评分: %.1f/100\n", a.Metrics.RiskScore())
	fmt.Fprintf(&b, "性能状态: %s", status)
	return b.String()
}

// ExportJSON 导出指标、记录与快照，用于落盘归档
func (a *Analyzer) ExportJSON() ([]byte, error) {
	payload := struct {
		Metrics   *Metrics   `json:"metrics"`
		Records   []Record   `json:"records"`
		Snapshots []Snapshot `json:"snapshots"`
	}{
		Metrics:   a.Metrics,
		Records:   a.records,
		Snapshots: a.snapshots,
	}
	return json.MarshalIndent(payload, "", "  ")
}

// Reset 清空指标与全部历史
func (a *Analyzer) Reset() {
	a.Metrics.Reset()
	a.records = nil
	a.snapshots = nil
}
