package models

import "time"

// StrategyState 定义了策略引擎需要持久化的全部关键数据。
// 活跃订单不在其中：重启后引擎会先撤销交易所上的遗留订单，
// 并在下一个行情事件到来时重建整个网格。
type StrategyState struct {
	Symbol         string        `json:"symbol"`           // 交易对, e.g., "BTCUSDT"
	Version        int           `json:"version"`          // 状态模型的版本号，用于未来迁移
	Position       PositionState `json:"position"`         // 持仓与风控状态 (随交易活动变化)
	PriceHistory   []float64     `json:"price_history"`    // 最近的中间价窗口
	RealizedProfit float64       `json:"realized_profit"`  // 累计已实现盈亏
	LastUpdateTime time.Time     `json:"last_update_time"` // 状态最后更新的时间戳
}

// PositionState 代表当前持仓与风控计数器，是【高度可变】的
type PositionState struct {
	LongPosition   float64    `json:"long_position"`              // 多头持仓数量
	ShortPosition  float64    `json:"short_position"`             // 空头持仓数量
	InitialEquity  float64    `json:"initial_equity"`             // 首个行情时捕获的初始净值
	InitialSet     bool       `json:"initial_set"`                // 初始净值是否已捕获
	MaxEquity      float64    `json:"max_equity"`                 // 观察到的最大净值
	DailyPnl       float64    `json:"daily_pnl"`                  // 当日已实现盈亏
	LastDailyReset time.Time  `json:"last_daily_reset"`           // 上次日内计数重置时间
	PositionStart  *time.Time `json:"position_start,omitempty"`   // 净持仓首次不为零的时间，平掉后清空
	HighestPrice   float64    `json:"highest_price,omitempty"`    // 建仓后的最高价，用于移动止损
}
