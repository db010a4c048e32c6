package strategy

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"binance-grid-trader-go/internal/errs"
	"binance-grid-trader-go/internal/exchange"
	"binance-grid-trader-go/internal/models"
	"binance-grid-trader-go/internal/optimizer"
	"binance-grid-trader-go/internal/performance"
	"binance-grid-trader-go/internal/persistence"

	"go.uber.org/zap"
)

// EngineState 表示策略引擎的运行状态
type EngineState int

const (
	StateRunning     EngineState = iota // 正常运行
	StateLiquidating                    // 清算中 (瞬态，在单个周期内完成)
	StateStopped                        // 已停止 (终态)
)

// String 返回状态的可读名称
func (s EngineState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateLiquidating:
		return "LIQUIDATING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

const (
	stateVersion         = 1
	dailyResetInterval   = 24 * time.Hour
	marginCheckInterval  = 5 * time.Minute
	statusReportInterval = time.Hour
	persistQueueSize     = 128
	performanceFile      = "grid_performance.json"
)

// gridLevel 是一档待提交的网格挂单
type gridLevel struct {
	side     string
	price    float64
	quantity float64
}

// Engine 是网格策略的核心状态机。全部可变字段只由事件循环所在的
// 单个 goroutine 访问，持久化通过带缓冲的通道交给后台 goroutine，
// 外部只通过 Stop 发出退出信号。
type Engine struct {
	cfg        models.GridConfig
	ex         exchange.Exchange
	repo       persistence.StateRepository
	logger     *zap.SugaredLogger
	isBacktest bool

	analyzer  *performance.Analyzer
	optimizer *optimizer.BatchOptimizer
	stats     *errs.Statistics

	state        EngineState
	priceHistory []float64
	spacing      float64
	currentPrice float64
	currentTime  time.Time

	longPosition  float64
	shortPosition float64
	buyEntries    map[int64]float64 // 买单 orderID -> 下单时的参考价
	sellEntries   map[int64]float64 // 卖单 orderID -> 下单时的参考价

	initialEquity  float64
	initialSet     bool
	maxEquity      float64
	dailyPnl       float64
	lastDailyReset time.Time
	positionStart  *time.Time
	highestPrice   float64
	realizedProfit float64
	peakCapital    float64

	lastMarginCheck  time.Time
	lastStatusReport time.Time
	startTime        time.Time

	persistChan chan *models.StrategyState
	stopChan    chan struct{}
	stopOnce    sync.Once
	doneChan    chan struct{}

	performancePath string
	nowFn           func() time.Time
	sleepFn         func(time.Duration) bool
}

// NewEngine 创建一个策略引擎实例。repo 可以为 nil (回测模式不落盘)。
func NewEngine(cfg *models.Config, ex exchange.Exchange, repo persistence.StateRepository, isBacktest bool, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		cfg:         cfg.Grid,
		ex:          ex,
		repo:        repo,
		logger:      logger,
		isBacktest:  isBacktest,
		analyzer:    performance.NewDefaultAnalyzer(),
		optimizer:   optimizer.NewBatchOptimizer(cfg.Grid.MaxOrdersPerBatch, 5*time.Second),
		stats:       &errs.Statistics{},
		state:       StateRunning,
		buyEntries:  make(map[int64]float64),
		sellEntries: make(map[int64]float64),
		persistChan: make(chan *models.StrategyState, persistQueueSize),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),

		performancePath: performanceFile,
		nowFn:           time.Now,
	}
	e.spacing = cfg.Grid.MinGridSpacing
	e.peakCapital = cfg.Grid.TotalCapital
	e.sleepFn = e.waitOrStop
	if isBacktest {
		// 回测由驱动方同步推进，不需要真实等待
		e.sleepFn = func(time.Duration) bool { return true }
	}
	return e
}

// Start 完成启动前的准备工作：撤销遗留挂单、设置杠杆、恢复历史状态，
// 并启动后台持久化。设置杠杆失败时直接中止启动。
func (e *Engine) Start() error {
	e.startTime = e.nowFn()

	e.logger.Info("=== 交易参数 ===")
	e.logger.Infof("交易对: %s", e.cfg.Symbol)
	e.logger.Infof("总资金: %.2f", e.cfg.TotalCapital)
	e.logger.Infof("网格数量: %d", e.cfg.GridCount)
	e.logger.Infof("每格交易金额: %.2f", e.cfg.TradeAmount)
	e.logger.Infof("最大持仓: %.4f", e.cfg.MaxPosition)
	e.logger.Infof("最大回撤: %.1f%%", e.cfg.MaxDrawdown*100)
	e.logger.Infof("检查间隔: %d秒", e.cfg.CheckInterval)
	e.logger.Infof("杠杆倍数: %dx", e.cfg.Leverage)
	e.logger.Infof("网格间距: %.2f%% - %.2f%%", e.cfg.MinGridSpacing*100, e.cfg.MaxGridSpacing*100)
	e.logger.Infof("单笔最大亏损: %.1f%%", e.cfg.MaxSingleLoss*100)
	e.logger.Infof("每日最大亏损: %.1f%%", e.cfg.MaxDailyLoss*100)
	e.logger.Infof("最大持仓时间: %d小时", e.cfg.MaxHoldingTime/3600)

	if err := e.ex.CancelAllOpenOrders(e.cfg.Symbol); err != nil {
		e.logger.Warnf("撤销遗留挂单失败: %v", err)
	}

	if err := e.ex.SetLeverage(e.cfg.Symbol, e.cfg.Leverage); err != nil {
		return errs.Wrap(errs.KindOrder, "设置杠杆倍数失败", err)
	}
	e.logger.Infof("成功设置杠杆倍数为 %dx", e.cfg.Leverage)

	e.restoreState()

	if e.repo != nil {
		go e.persistLoop()
	}
	return nil
}

// Run 是实盘模式的事件主循环。行情通道关闭被视为不可恢复错误，
// 循环直接退出且不尝试清算。
func (e *Engine) Run() {
	defer close(e.doneChan)

	interval := time.Duration(e.cfg.CheckInterval) * time.Second
	events := e.ex.Events()

	for {
		select {
		case <-e.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				e.logger.Error("行情事件通道已关闭，策略异常退出")
				e.state = StateStopped
				return
			}
			e.ProcessEvent(ev)
			if e.state == StateStopped {
				return
			}
			if ev.Type == models.EventMids {
				if !e.sleepFn(interval) {
					return
				}
			}
		}
	}
}

// Stop 通知引擎退出。可以从任意 goroutine 调用，幂等。
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// Done 返回在事件循环退出时关闭的通道
func (e *Engine) Done() <-chan struct{} { return e.doneChan }

// ProcessEvent 处理一个入站行情事件。实盘由 Run 调用，
// 回测由驱动方按K线顺序同步调用。
func (e *Engine) ProcessEvent(ev models.MarketEvent) {
	if e.state == StateStopped {
		return
	}

	if !ev.Time.IsZero() {
		e.currentTime = ev.Time
	} else {
		e.currentTime = e.nowFn()
	}
	e.seedTimers()

	switch ev.Type {
	case models.EventMids:
		mid, ok := ev.Mids[e.cfg.Symbol]
		if !ok {
			return
		}
		price, err := strconv.ParseFloat(mid, 64)
		if err != nil || price <= 0 {
			parseErr := errs.Newf(errs.KindPriceParse, "中间价解析失败: %q", mid)
			e.stats.Record(parseErr)
			e.logger.Warnf("%v", parseErr)
			return
		}
		e.handleTick(price)
	case models.EventFills:
		e.handleFills(ev.Fills)
	}

	e.enqueueSnapshot()
}

// seedTimers 在首个事件到来时初始化各周期计时基准
func (e *Engine) seedTimers() {
	if e.lastDailyReset.IsZero() {
		e.lastDailyReset = e.currentTime
	}
	if e.lastMarginCheck.IsZero() {
		e.lastMarginCheck = e.currentTime
	}
	if e.lastStatusReport.IsZero() {
		e.lastStatusReport = e.currentTime
	}
	if e.startTime.IsZero() {
		e.startTime = e.currentTime
	}
}

// handleTick 执行一个完整的价格周期：风控检查在前，网格刷新在后。
func (e *Engine) handleTick(price float64) {
	if e.currentPrice > 0 {
		change := (price - e.currentPrice) / e.currentPrice * 100
		e.logger.Debugf("价格变化: %.4f%% (从 %.4f 到 %.4f)", change, e.currentPrice, price)
	}
	e.currentPrice = price

	// 1. 每日统计重置
	if e.currentTime.Sub(e.lastDailyReset) >= dailyResetInterval {
		e.dailyPnl = 0
		e.lastDailyReset = e.currentTime
		e.logger.Info("重置每日统计")
	}

	// 2. 价格历史与动态间距
	e.priceHistory = append(e.priceHistory, price)
	if len(e.priceHistory) > e.cfg.HistoryLength {
		e.priceHistory = e.priceHistory[1:]
	}
	e.spacing = CalculateGridSpacing(e.priceHistory, e.cfg.MinGridSpacing, e.cfg.MaxGridSpacing)

	// 3. 净值更新。净值取多空数量差的简化口径，与持久化状态保持一致。
	equity := e.longPosition - e.shortPosition
	if equity > e.maxEquity {
		e.maxEquity = equity
	}

	// 4. 持仓时间风控 (非终态)
	if e.positionStart != nil &&
		e.currentTime.Sub(*e.positionStart) >= time.Duration(e.cfg.MaxHoldingTime)*time.Second {
		e.logger.Warnf("持仓时间超过 %d 秒，强制平仓", e.cfg.MaxHoldingTime)
		e.liquidate(price)
		e.state = StateRunning
		e.positionStart = nil
	}

	// 5. 移动止损 (非终态，仅净多头方向)
	e.checkTrailingStop(price)

	// 6. 回撤风控 (终态)。首个周期只记录基准。
	if !e.initialSet {
		e.initialEquity = equity
		e.initialSet = true
	} else if e.initialEquity != 0 {
		drawdown := (e.initialEquity - equity) / e.initialEquity
		if drawdown > e.cfg.MaxDrawdown {
			riskErr := errs.Newf(errs.KindRiskControl, "回撤 %.2f%% 超过上限 %.2f%%", drawdown*100, e.cfg.MaxDrawdown*100)
			e.stats.Record(riskErr)
			e.logger.Errorf("%v，开始清算", riskErr)
			e.liquidate(price)
			e.state = StateStopped
			return
		}
	}

	// 7. 每日亏损风控 (终态)
	if e.dailyPnl < -e.cfg.TotalCapital*e.cfg.MaxDailyLoss {
		riskErr := errs.Newf(errs.KindRiskControl, "当日亏损 %.2f 超过上限 %.2f", -e.dailyPnl, e.cfg.TotalCapital*e.cfg.MaxDailyLoss)
		e.stats.Record(riskErr)
		e.logger.Errorf("%v，开始清算", riskErr)
		e.liquidate(price)
		e.state = StateStopped
		return
	}

	// 8. 保证金监控 (每5分钟)
	if e.currentTime.Sub(e.lastMarginCheck) >= marginCheckInterval {
		e.checkMargin(price)
		if e.state == StateStopped {
			return
		}
	}

	// 9. 网格刷新
	e.refreshGrid(price)

	// 10. 状态报告 (每小时)
	if e.currentTime.Sub(e.lastStatusReport) >= statusReportInterval {
		e.reportStatus(price)
		e.lastStatusReport = e.currentTime
	}
}

// checkTrailingStop 跟踪净多头建仓后的最高价，回撤超过配置比例时平仓。
func (e *Engine) checkTrailingStop(price float64) {
	net := e.longPosition - e.shortPosition
	if net <= 0 {
		e.highestPrice = 0
		return
	}

	if price > e.highestPrice {
		e.highestPrice = price
		return
	}

	stopPrice := e.highestPrice * (1 - e.cfg.TrailingStopRatio)
	if e.highestPrice > 0 && price <= stopPrice {
		e.logger.Warnf("触发移动止损: 当前价 %.4f 低于止损价 %.4f (最高价 %.4f)", price, stopPrice, e.highestPrice)
		e.stats.RecordKind(errs.KindStopLoss)
		e.liquidate(price)
		e.state = StateRunning
		e.positionStart = nil
		e.highestPrice = 0
	}
}

// checkMargin 查询账户保证金使用率，超过警戒线视为致命风险。
// 查询失败时不更新检查时间，下一个周期会立即重试。
func (e *Engine) checkMargin(price float64) {
	info, err := e.ex.GetAccountInfo()
	if err != nil {
		e.stats.Record(err)
		e.logger.Warnf("获取账户信息失败，跳过保证金检查: %v", err)
		return
	}

	total, err1 := strconv.ParseFloat(info.TotalMarginBalance, 64)
	avail, err2 := strconv.ParseFloat(info.AvailableBalance, 64)
	if err1 != nil || err2 != nil {
		e.logger.Warnf("账户信息解析失败: balance=%q available=%q", info.TotalMarginBalance, info.AvailableBalance)
		return
	}

	e.lastMarginCheck = e.currentTime
	if total <= 0 {
		return
	}

	usage := 1 - avail/total
	if usage > e.cfg.MarginUsageThreshold {
		marginErr := errs.Newf(errs.KindMarginInsufficient, "保证金使用率 %.1f%% 超过警戒线 %.1f%%", usage*100, e.cfg.MarginUsageThreshold*100)
		e.stats.Record(marginErr)
		e.logger.Errorf("%v，执行紧急清算", marginErr)
		e.liquidate(price)
		e.state = StateStopped
		return
	}
	e.logger.Debugf("保证金使用率: %.1f%%", usage*100)
}

// handleFills 按顺序处理一批成交。单笔亏损触发终态止损后，
// 批次中剩余的成交不再处理。
func (e *Engine) handleFills(fills []models.Fill) {
	for _, fill := range fills {
		if e.state == StateStopped {
			return
		}
		e.applyFill(fill)
	}
}

// applyFill 处理一笔成交：计算已实现盈亏、更新风控计数器与持仓。
func (e *Engine) applyFill(fill models.Fill) {
	quantity, err := strconv.ParseFloat(fill.Quantity, 64)
	if err != nil {
		parseErr := errs.Newf(errs.KindQuantityParse, "成交数量解析失败: %q", fill.Quantity)
		e.stats.Record(parseErr)
		e.logger.Warnf("%v", parseErr)
		return
	}
	price, err := strconv.ParseFloat(fill.Price, 64)
	if err != nil {
		parseErr := errs.Newf(errs.KindPriceParse, "成交价格解析失败: %q", fill.Price)
		e.stats.Record(parseErr)
		e.logger.Warnf("%v", parseErr)
		return
	}

	// 已实现盈亏以下单时的参考价为基准，清算单等未跟踪的成交计为 0
	pnl := 0.0
	tracked := false
	if fill.Side == models.SideBuy {
		if entry, ok := e.buyEntries[fill.OrderID]; ok {
			pnl = (entry - price) * quantity
			tracked = true
		}
	} else {
		if entry, ok := e.sellEntries[fill.OrderID]; ok {
			pnl = (price - entry) * quantity
			tracked = true
		}
	}

	e.dailyPnl += pnl
	if tracked {
		e.realizedProfit += pnl
		action := fmt.Sprintf("买入 %.4f @ %.4f", quantity, price)
		if fill.Side == models.SideSell {
			action = fmt.Sprintf("卖出 %.4f @ %.4f", quantity, price)
		}
		e.analyzer.AddTradeRecord(performance.NewRecord(price, action, pnl, e.cfg.TotalCapital+e.realizedProfit))
		e.logger.Infof("订单成交: %s, 盈亏 %.4f, 当日盈亏 %.4f", action, pnl, e.dailyPnl)
	} else {
		e.logger.Infof("未跟踪订单成交: %s %s %.8s @ %s", fill.Side, fill.Symbol, fill.Quantity, fill.Price)
	}

	// 单笔亏损风控 (终态)
	if pnl < -e.cfg.TotalCapital*e.cfg.MaxSingleLoss {
		riskErr := errs.Newf(errs.KindStopLoss, "单笔亏损 %.2f 超过上限 %.2f", -pnl, e.cfg.TotalCapital*e.cfg.MaxSingleLoss)
		e.stats.Record(riskErr)
		e.logger.Errorf("%v，开始清算", riskErr)
		e.liquidate(price)
		e.state = StateStopped
		return
	}

	// 持仓与建仓时间
	if fill.Side == models.SideBuy {
		e.longPosition += quantity
	} else {
		e.shortPosition += quantity
	}
	net := e.longPosition - e.shortPosition
	if net != 0 && e.positionStart == nil {
		start := e.currentTime
		e.positionStart = &start
	}
	if net == 0 {
		e.positionStart = nil
		e.highestPrice = 0
	}

	delete(e.buyEntries, fill.OrderID)
	delete(e.sellEntries, fill.OrderID)
}

// refreshGrid 撤销全部跟踪中的挂单并围绕当前价格重建双向网格
func (e *Engine) refreshGrid(price float64) {
	e.cancelTrackedOrders()

	buyThreshold := e.spacing + e.cfg.GridPriceOffset
	sellThreshold := e.spacing - e.cfg.GridPriceOffset

	quantity := roundToPrecision(e.cfg.TradeAmount/price, e.cfg.QuantityPrecision)
	if quantity <= 0 {
		e.logger.Warnf("每格数量按精度取整后为 0 (价格 %.4f)，跳过本轮挂单", price)
		return
	}

	levels := make([]gridLevel, 0, 2*e.cfg.GridCount)
	if e.longPosition < e.cfg.MaxPosition {
		for i := 0; i < e.cfg.GridCount; i++ {
			buyPrice := roundToPrecision(price*(1-buyThreshold-float64(i)*e.spacing), e.cfg.PricePrecision)
			levels = append(levels, gridLevel{side: models.SideBuy, price: buyPrice, quantity: quantity})
		}
	} else {
		e.logger.Infof("多头持仓 %.4f 已达上限 %.4f，本轮不挂买单", e.longPosition, e.cfg.MaxPosition)
	}
	if e.shortPosition < e.cfg.MaxPosition {
		for i := 0; i < e.cfg.GridCount; i++ {
			sellPrice := roundToPrecision(price*(1+sellThreshold+float64(i)*e.spacing), e.cfg.PricePrecision)
			levels = append(levels, gridLevel{side: models.SideSell, price: sellPrice, quantity: quantity})
		}
	} else {
		e.logger.Infof("空头持仓 %.4f 已达上限 %.4f，本轮不挂卖单", e.shortPosition, e.cfg.MaxPosition)
	}

	if len(levels) > 0 {
		e.submitLevels(levels, price)
	}
}

// cancelTrackedOrders 逐个撤销跟踪中的挂单。撤单失败只记录日志，
// 跟踪集合无论结果如何都会清空，由下一轮成交事件兜底。
func (e *Engine) cancelTrackedOrders() {
	ids := make([]int64, 0, len(e.buyEntries)+len(e.sellEntries))
	for id := range e.buyEntries {
		ids = append(ids, id)
	}
	for id := range e.sellEntries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := e.ex.CancelOrder(e.cfg.Symbol, id); err != nil {
			e.stats.Record(err)
			e.logger.Warnf("撤销订单 %d 失败: %v", id, err)
		}
	}

	e.buyEntries = make(map[int64]float64)
	e.sellEntries = make(map[int64]float64)
}

// submitLevels 按优化器给出的批次大小分批提交挂单，
// 并把每批的耗时反馈给优化器。
func (e *Engine) submitLevels(levels []gridLevel, reference float64) {
	batchSize := e.optimizer.CalculateOptimalBatchSize(len(levels))
	if batchSize <= 0 {
		batchSize = len(levels)
	}

	placed := 0
	for start := 0; start < len(levels); start += batchSize {
		end := start + batchSize
		if end > len(levels) {
			end = len(levels)
		}

		batchStart := e.nowFn()
		for _, level := range levels[start:end] {
			if e.placeGridOrder(level, reference) {
				placed++
			}
		}
		e.optimizer.RecordExecutionTime(e.nowFn().Sub(batchStart))

		if end < len(levels) && e.cfg.OrderBatchDelayMs > 0 {
			if !e.sleepFn(time.Duration(e.cfg.OrderBatchDelayMs) * time.Millisecond) {
				return
			}
		}
	}

	e.logger.Infof("网格刷新完成: 提交 %d/%d 档, 批次大小 %d, 间距 %.4f%%",
		placed, len(levels), batchSize, e.spacing*100)
}

// placeGridOrder 提交一档网格挂单并登记参考价。被拒绝时记录后跳过。
func (e *Engine) placeGridOrder(level gridLevel, reference float64) bool {
	order, err := e.ex.PlaceOrder(e.cfg.Symbol, level.side, level.price, level.quantity, false)
	if err != nil {
		e.stats.Record(err)
		e.logger.Warnf("挂单失败 %s %.4f @ %.4f: %v", level.side, level.quantity, level.price, err)
		return false
	}

	if level.side == models.SideBuy {
		e.buyEntries[order.OrderId] = reference
	} else {
		e.sellEntries[order.OrderId] = reference
	}
	return true
}

// liquidate 以 reduce-only 限价单在指定价格平掉双向持仓。
// 清算单不进入跟踪集合，其成交只更新持仓，不计入盈亏。
func (e *Engine) liquidate(price float64) {
	e.state = StateLiquidating
	e.logger.Warnf("开始清算: 多头 %.4f, 空头 %.4f, 价格 %.4f", e.longPosition, e.shortPosition, price)

	limitPrice := roundToPrecision(price, e.cfg.PricePrecision)
	if e.longPosition > 0 {
		qty := roundToPrecision(e.longPosition, e.cfg.QuantityPrecision)
		if _, err := e.ex.PlaceOrder(e.cfg.Symbol, models.SideSell, limitPrice, qty, true); err != nil {
			e.stats.Record(err)
			e.logger.Errorf("平多头失败: %v", err)
		}
	}
	if e.shortPosition > 0 {
		qty := roundToPrecision(e.shortPosition, e.cfg.QuantityPrecision)
		if _, err := e.ex.PlaceOrder(e.cfg.Symbol, models.SideBuy, limitPrice, qty, true); err != nil {
			e.stats.Record(err)
			e.logger.Errorf("平空头失败: %v", err)
		}
	}
}

// reportStatus 输出一小时一次的运行状态、市场分析与性能指标
func (e *Engine) reportStatus(price float64) {
	equity := e.longPosition - e.shortPosition
	totalCapital := e.cfg.TotalCapital + e.realizedProfit

	metrics := e.analyzer.Metrics
	e.analyzer.UpdateSharpeRatio(0)

	// 资金回撤按峰值口径计算：先推进峰值，再取相对峰值的回撤比例
	if totalCapital > e.peakCapital {
		e.peakCapital = totalCapital
	}
	if e.peakCapital > 0 {
		metrics.UpdateDrawdown((e.peakCapital - totalCapital) / e.peakCapital)
	}

	report := fmt.Sprintf(
		"===== 网格交易状态报告 =====\n"+
			"交易对: %s\n"+
			"当前价格: %.4f\n"+
			"网格间距: %.4f%% (范围 %.2f%% - %.2f%%)\n"+
			"多头持仓: %.4f\n"+
			"空头持仓: %.4f\n"+
			"净持仓: %.4f\n"+
			"最大净值: %.4f\n"+
			"当日盈亏: %.4f\n"+
			"已实现利润: %.4f\n"+
			"利润率: %.2f%%\n"+
			"活跃买单数: %d\n"+
			"活跃卖单数: %d\n"+
			"移动止损最高价: %.4f\n"+
			"运行状态: %s\n"+
			"==============================",
		e.cfg.Symbol, price, e.spacing*100, e.cfg.MinGridSpacing*100, e.cfg.MaxGridSpacing*100,
		e.longPosition, e.shortPosition, equity, e.maxEquity,
		e.dailyPnl, e.realizedProfit, e.realizedProfit/e.cfg.TotalCapital*100,
		len(e.buyEntries), len(e.sellEntries), e.highestPrice, e.state)
	e.logger.Infof("\n%s", report)

	analysis := AnalyzeMarket(e.priceHistory)
	e.logger.Infof("市场分析: 趋势 %s, RSI %.1f, 短期均线 %.4f, 长期均线 %.4f, 近5点变化 %.2f%%",
		analysis.Trend, analysis.RSI, analysis.ShortMA, analysis.LongMA, analysis.PriceChange5Pt*100)

	e.logger.Infof("性能指标: 交易 %d 笔 (胜 %d / 负 %d), 胜率 %.1f%%, 利润因子 %.2f, 夏普比率 %.2f, 风险评分 %.1f",
		metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades,
		metrics.WinRate, metrics.ProfitFactor, metrics.SharpeRatio, metrics.RiskScore())

	e.logger.Infof("批量优化器: %s", e.optimizer.AdjustmentSuggestion())

	e.analyzer.AddSnapshot(performance.SnapshotFromMetrics(
		metrics, totalCapital, totalCapital, equity, 0,
		e.realizedProfit, e.currentTime.Sub(e.startTime).Hours(), e.cfg.TotalCapital))
}

// Shutdown 执行安全退出：撤销挂单、按配置清仓、落盘最终状态并输出总结。
// 必须在事件循环退出后调用。
func (e *Engine) Shutdown() {
	e.logger.Info("开始安全退出流程...")

	e.cancelTrackedOrders()

	if e.cfg.ClosePositionsOnExit && (e.longPosition > 0 || e.shortPosition > 0) && e.currentPrice > 0 {
		e.logger.Info("按配置在退出前清仓")
		e.liquidate(e.currentPrice)
	}
	e.state = StateStopped

	if e.repo != nil {
		if err := e.repo.SaveState(e.snapshotState()); err != nil {
			e.logger.Errorf("CRITICAL: 保存最终状态失败: %v", err)
		}
	}

	if e.stats.Total() > 0 {
		e.logger.Infof("\n%s", e.stats.Report())
	}

	e.analyzer.UpdateSharpeRatio(0)
	e.logger.Infof("\n%s", e.analyzer.DetailedReport())

	if data, err := e.analyzer.ExportJSON(); err == nil {
		if err := os.WriteFile(e.performancePath, data, 0o644); err != nil {
			e.logger.Warnf("导出性能数据失败: %v", err)
		} else {
			e.logger.Infof("性能数据已导出到 %s", e.performancePath)
		}
	}

	if !e.startTime.IsZero() {
		e.logger.Infof("安全退出完成，运行时长 %s", e.nowFn().Sub(e.startTime).Round(time.Second))
	} else {
		e.logger.Info("安全退出完成")
	}
}

// --- 持久化 ---

// snapshotState 生成当前状态的深拷贝用于持久化
func (e *Engine) snapshotState() *models.StrategyState {
	history := make([]float64, len(e.priceHistory))
	copy(history, e.priceHistory)

	var posStart *time.Time
	if e.positionStart != nil {
		start := *e.positionStart
		posStart = &start
	}

	return &models.StrategyState{
		Symbol:  e.cfg.Symbol,
		Version: stateVersion,
		Position: models.PositionState{
			LongPosition:   e.longPosition,
			ShortPosition:  e.shortPosition,
			InitialEquity:  e.initialEquity,
			InitialSet:     e.initialSet,
			MaxEquity:      e.maxEquity,
			DailyPnl:       e.dailyPnl,
			LastDailyReset: e.lastDailyReset,
			PositionStart:  posStart,
			HighestPrice:   e.highestPrice,
		},
		PriceHistory:   history,
		RealizedProfit: e.realizedProfit,
		LastUpdateTime: e.currentTime,
	}
}

// enqueueSnapshot 把状态快照交给持久化 goroutine。队列已满时丢弃本次快照，
// 后续事件会再次入队，不阻塞事件循环。
func (e *Engine) enqueueSnapshot() {
	if e.repo == nil {
		return
	}
	select {
	case e.persistChan <- e.snapshotState():
	default:
		e.logger.Debug("持久化队列已满，丢弃本次快照")
	}
}

// persistLoop 在后台串行写入状态快照
func (e *Engine) persistLoop() {
	for {
		select {
		case state := <-e.persistChan:
			if err := e.repo.SaveState(state); err != nil {
				e.logger.Errorf("CRITICAL: 保存状态失败: %v", err)
			}
		case <-e.stopChan:
			return
		}
	}
}

// restoreState 尝试从数据库恢复上一次运行的状态
func (e *Engine) restoreState() {
	if e.repo == nil {
		return
	}

	state, err := e.repo.LoadState(e.cfg.Symbol)
	if err != nil {
		e.logger.Warnf("加载历史状态失败，按全新状态启动: %v", err)
		return
	}
	if state == nil {
		e.logger.Info("未找到历史状态，全新启动")
		return
	}
	if state.Version != stateVersion {
		e.logger.Warnf("历史状态版本不匹配 (存储 %d, 当前 %d)，忽略", state.Version, stateVersion)
		return
	}

	e.priceHistory = append(e.priceHistory[:0], state.PriceHistory...)
	e.longPosition = state.Position.LongPosition
	e.shortPosition = state.Position.ShortPosition
	e.initialEquity = state.Position.InitialEquity
	e.initialSet = state.Position.InitialSet
	e.maxEquity = state.Position.MaxEquity
	e.dailyPnl = state.Position.DailyPnl
	e.lastDailyReset = state.Position.LastDailyReset
	e.positionStart = state.Position.PositionStart
	e.highestPrice = state.Position.HighestPrice
	e.realizedProfit = state.RealizedProfit

	e.logger.Infof("已恢复历史状态: 多头 %.4f, 空头 %.4f, 已实现利润 %.4f, 价格历史 %d 条",
		e.longPosition, e.shortPosition, e.realizedProfit, len(e.priceHistory))
}

// --- 访问器 (供命令行与报告使用) ---

// State 返回当前引擎状态。只应在事件循环退出后或测试中调用。
func (e *Engine) State() EngineState { return e.state }

// Position 返回多头与空头持仓数量
func (e *Engine) Position() (float64, float64) { return e.longPosition, e.shortPosition }

// RealizedProfit 返回累计已实现盈亏
func (e *Engine) RealizedProfit() float64 { return e.realizedProfit }

// DailyPnl 返回当日已实现盈亏
func (e *Engine) DailyPnl() float64 { return e.dailyPnl }

// Analyzer 返回性能分析器
func (e *Engine) Analyzer() *performance.Analyzer { return e.analyzer }

// Stats 返回错误统计
func (e *Engine) Stats() *errs.Statistics { return e.stats }

// waitOrStop 等待指定时长，期间收到退出信号时返回 false
func (e *Engine) waitOrStop(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stopChan:
		return false
	}
}

// roundToPrecision 将数值按小数位数四舍五入
func roundToPrecision(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}
