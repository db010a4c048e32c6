package exchange

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"binance-grid-trader-go/internal/errs"
	"binance-grid-trader-go/internal/models"

	"go.uber.org/zap"
)

const qtyEpsilon = 1e-9

// BacktestExchange 实现了 Exchange 接口，在本地模拟交易所的撮合行为。
// 驱动方逐根推入K线，挂单按 开->低->高->收 的路径检查成交，
// 产生的成交与收盘中间价以事件形式返回给策略。
type BacktestExchange struct {
	symbol         string
	initialBalance float64
	cash           float64
	makerFeeRate   float64
	totalFees      float64
	leverage       int

	longQty       float64
	shortQty      float64
	avgLongEntry  float64
	avgShortEntry float64
	longStart     time.Time
	shortStart    time.Time

	orders       map[int64]*models.Order
	nextOrderID  int64
	currentPrice float64
	currentTime  time.Time

	equityCurve  []float64
	dailyEquity  map[string]float64
	tradeLog     []models.CompletedTrade
	pendingFills []models.Fill

	events    chan models.MarketEvent
	closeOnce sync.Once
	logger    *zap.SugaredLogger
	mu        sync.Mutex
}

// NewBacktestExchange 创建回测交易所，以网格配置的总资金作为起始资金。
func NewBacktestExchange(cfg *models.Config, logger *zap.SugaredLogger) *BacktestExchange {
	return &BacktestExchange{
		symbol:         cfg.Grid.Symbol,
		initialBalance: cfg.Grid.TotalCapital,
		cash:           cfg.Grid.TotalCapital,
		makerFeeRate:   cfg.Grid.FeeRate,
		leverage:       cfg.Grid.Leverage,
		orders:         make(map[int64]*models.Order),
		nextOrderID:    1,
		dailyEquity:    make(map[string]float64),
		events:         make(chan models.MarketEvent),
		logger:         logger,
	}
}

// SetPrice 推进一根K线：按 O->L->H->C 的路径撮合挂单，更新账户状态，
// 并返回本根K线产生的事件（成交在前，收盘中间价在后）。
func (e *BacktestExchange) SetPrice(open, high, low, close float64, timestamp time.Time) []models.MarketEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentTime = timestamp
	e.pendingFills = e.pendingFills[:0]

	e.checkLimitOrdersAtPrice(open)
	e.checkLimitOrdersAtPrice(low)
	e.checkLimitOrdersAtPrice(high)
	e.checkLimitOrdersAtPrice(close)

	e.currentPrice = close
	e.updateEquity()

	var out []models.MarketEvent
	if len(e.pendingFills) > 0 {
		fills := make([]models.Fill, len(e.pendingFills))
		copy(fills, e.pendingFills)
		out = append(out, models.MarketEvent{Type: models.EventFills, Time: timestamp, Fills: fills})
	}
	out = append(out, models.MarketEvent{
		Type: models.EventMids,
		Time: timestamp,
		Mids: map[string]string{e.symbol: strconv.FormatFloat(close, 'f', -1, 64)},
	})
	return out
}

// checkLimitOrdersAtPrice 在指定价格点上检查全部挂单是否成交。
// 按订单号排序保证确定性。
func (e *BacktestExchange) checkLimitOrdersAtPrice(price float64) {
	var orderedIDs []int64
	for id := range e.orders {
		orderedIDs = append(orderedIDs, id)
	}
	sort.Slice(orderedIDs, func(i, j int) bool { return orderedIDs[i] < orderedIDs[j] })

	for _, orderID := range orderedIDs {
		order := e.orders[orderID]
		if order.Status != "NEW" {
			continue
		}
		limitPrice, _ := strconv.ParseFloat(order.Price, 64)
		shouldFill := (order.Side == models.SideBuy && price <= limitPrice) ||
			(order.Side == models.SideSell && price >= limitPrice)
		if shouldFill {
			e.handleFilledOrder(order, limitPrice)
		}
	}
}

// handleFilledOrder 以挂单价成交一笔订单并更新持仓与现金。
func (e *BacktestExchange) handleFilledOrder(order *models.Order, limitPrice float64) {
	order.Status = "FILLED"
	quantity, _ := strconv.ParseFloat(order.OrigQty, 64)

	// 网格单全部以挂单方式成交，按 maker 费率收取
	fee := limitPrice * quantity * e.makerFeeRate
	e.totalFees += fee
	e.cash -= fee

	switch {
	case order.Side == models.SideBuy && !order.ReduceOnly:
		if e.longQty <= qtyEpsilon {
			e.longStart = e.currentTime
		}
		newTotal := e.longQty + quantity
		e.avgLongEntry = (e.avgLongEntry*e.longQty + limitPrice*quantity) / newTotal
		e.longQty = newTotal

	case order.Side == models.SideSell && !order.ReduceOnly:
		if e.shortQty <= qtyEpsilon {
			e.shortStart = e.currentTime
		}
		newTotal := e.shortQty + quantity
		e.avgShortEntry = (e.avgShortEntry*e.shortQty + limitPrice*quantity) / newTotal
		e.shortQty = newTotal

	case order.Side == models.SideSell && order.ReduceOnly:
		closeQty := quantity
		if closeQty > e.longQty {
			closeQty = e.longQty
		}
		pnl := (limitPrice - e.avgLongEntry) * closeQty
		e.cash += pnl
		e.appendTrade(closeQty, e.longStart, e.avgLongEntry, limitPrice, pnl-fee, fee)
		e.longQty -= closeQty
		if e.longQty <= qtyEpsilon {
			e.longQty = 0
			e.avgLongEntry = 0
			e.longStart = time.Time{}
		}

	case order.Side == models.SideBuy && order.ReduceOnly:
		closeQty := quantity
		if closeQty > e.shortQty {
			closeQty = e.shortQty
		}
		pnl := (e.avgShortEntry - limitPrice) * closeQty
		e.cash += pnl
		e.appendTrade(closeQty, e.shortStart, e.avgShortEntry, limitPrice, pnl-fee, fee)
		e.shortQty -= closeQty
		if e.shortQty <= qtyEpsilon {
			e.shortQty = 0
			e.avgShortEntry = 0
			e.shortStart = time.Time{}
		}
	}

	e.pendingFills = append(e.pendingFills, models.Fill{
		OrderID:  order.OrderId,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Price:    order.Price,
		Quantity: order.OrigQty,
		Time:     e.currentTime,
	})
}

// appendTrade 记录一笔平仓交易
func (e *BacktestExchange) appendTrade(qty float64, entryTime time.Time, entryPrice, exitPrice, profit, fee float64) {
	e.tradeLog = append(e.tradeLog, models.CompletedTrade{
		Symbol:       e.symbol,
		Quantity:     qty,
		EntryTime:    entryTime,
		ExitTime:     e.currentTime,
		HoldDuration: e.currentTime.Sub(entryTime),
		EntryPrice:   entryPrice,
		ExitPrice:    exitPrice,
		Profit:       profit,
		Fee:          fee,
	})
}

// unrealizedPnl 按当前价格计算双向持仓的未实现盈亏
func (e *BacktestExchange) unrealizedPnl() float64 {
	return (e.currentPrice-e.avgLongEntry)*e.longQty + (e.avgShortEntry-e.currentPrice)*e.shortQty
}

// updateEquity 记录当前权益到曲线与每日权益表
func (e *BacktestExchange) updateEquity() {
	equity := e.cash + e.unrealizedPnl()
	e.equityCurve = append(e.equityCurve, equity)
	e.dailyEquity[e.currentTime.Format("2006-01-02")] = equity
}

// --- Exchange 接口实现 ---

// PlaceOrder 登记一笔限价挂单，下一根K线起参与撮合。
// 无对应持仓的 reduce-only 单按交易所行为直接拒绝。
func (e *BacktestExchange) PlaceOrder(symbol, side string, price, quantity float64, reduceOnly bool) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reduceOnly {
		if side == models.SideSell && e.longQty <= qtyEpsilon {
			return nil, errs.New(errs.KindOrder, "reduce-only 卖单被拒绝: 无多头持仓")
		}
		if side == models.SideBuy && e.shortQty <= qtyEpsilon {
			return nil, errs.New(errs.KindOrder, "reduce-only 买单被拒绝: 无空头持仓")
		}
	}

	order := &models.Order{
		OrderId:     e.nextOrderID,
		Symbol:      e.symbol,
		Side:        side,
		Type:        "LIMIT",
		TimeInForce: "GTC",
		OrigQty:     strconv.FormatFloat(quantity, 'f', -1, 64),
		Price:       strconv.FormatFloat(price, 'f', -1, 64),
		Status:      "NEW",
		ReduceOnly:  reduceOnly,
		Time:        e.currentTime.UnixMilli(),
	}
	e.orders[order.OrderId] = order
	e.nextOrderID++

	return order, nil
}

// CancelOrder 撤销挂单；订单不存在或已终结时静默成功。
func (e *BacktestExchange) CancelOrder(symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order, ok := e.orders[orderID]; ok && order.Status == "NEW" {
		order.Status = "CANCELED"
	}
	return nil
}

// CancelAllOpenOrders 撤销全部挂单。
func (e *BacktestExchange) CancelAllOpenOrders(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, order := range e.orders {
		if order.Status == "NEW" {
			order.Status = "CANCELED"
		}
	}
	return nil
}

// SetLeverage 记录杠杆倍数。
func (e *BacktestExchange) SetLeverage(symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage = leverage
	return nil
}

// GetAccountInfo 返回模拟的账户信息。
func (e *BacktestExchange) GetAccountInfo() (*models.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.cash + e.unrealizedPnl()
	var margin float64
	if e.leverage > 0 {
		margin = (e.avgLongEntry*e.longQty + e.avgShortEntry*e.shortQty) / float64(e.leverage)
	}
	return &models.AccountInfo{
		TotalWalletBalance:    fmt.Sprintf("%.8f", e.cash),
		TotalMarginBalance:    fmt.Sprintf("%.8f", equity),
		TotalMaintMargin:      fmt.Sprintf("%.8f", margin*0.1),
		TotalUnrealizedProfit: fmt.Sprintf("%.8f", e.unrealizedPnl()),
		AvailableBalance:      fmt.Sprintf("%.8f", equity-margin),
	}, nil
}

// Events 返回事件通道。回测由驱动方同步推进，通道仅用于满足接口。
func (e *BacktestExchange) Events() <-chan models.MarketEvent {
	return e.events
}

// Close 关闭事件通道。
func (e *BacktestExchange) Close() error {
	e.closeOnce.Do(func() { close(e.events) })
	return nil
}

// --- 回测报告访问器 ---

// OpenOrderCount 返回当前挂单数量
func (e *BacktestExchange) OpenOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, order := range e.orders {
		if order.Status == "NEW" {
			count++
		}
	}
	return count
}

// CurrentEquity 返回当前账户权益
func (e *BacktestExchange) CurrentEquity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash + e.unrealizedPnl()
}

// InitialBalance 返回起始资金
func (e *BacktestExchange) InitialBalance() float64 { return e.initialBalance }

// TotalFees 返回累计手续费
func (e *BacktestExchange) TotalFees() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFees
}

// EquityCurve 返回权益曲线副本
func (e *BacktestExchange) EquityCurve() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	curve := make([]float64, len(e.equityCurve))
	copy(curve, e.equityCurve)
	return curve
}

// DailyEquity 返回每日权益副本
func (e *BacktestExchange) DailyEquity() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make(map[string]float64, len(e.dailyEquity))
	for k, v := range e.dailyEquity {
		cpy[k] = v
	}
	return cpy
}

// TradeLog 返回全部平仓交易记录副本
func (e *BacktestExchange) TradeLog() []models.CompletedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := make([]models.CompletedTrade, len(e.tradeLog))
	copy(log, e.tradeLog)
	return log
}

// CurrentTime 返回回测推进到的时间
func (e *BacktestExchange) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}
