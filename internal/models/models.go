package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了程序的全部配置参数
type Config struct {
	IsTestnet     bool       `json:"is_testnet"` // 是否使用测试网
	DBPath        string     `json:"db_path"`    // 状态数据库目录
	LiveAPIURL    string     `json:"live_api_url"`
	LiveWSURL     string     `json:"live_ws_url"`
	TestnetAPIURL string     `json:"testnet_api_url"`
	TestnetWSURL  string     `json:"testnet_ws_url"`
	Grid          GridConfig `json:"grid"` // 网格策略参数
	LogConfig     LogConfig  `json:"log"`  // 日志配置

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// GridConfig 定义了网格策略在一次运行期间不变的参数
type GridConfig struct {
	Symbol               string  `json:"symbol"`                  // 交易对，如 "BTCUSDT"
	TotalCapital         float64 `json:"total_capital"`           // 总资金 (USDT)
	GridCount            int     `json:"grid_count"`              // 每侧网格档位数量
	TradeAmount          float64 `json:"trade_amount"`            // 每格交易金额 (USDT)
	MaxPosition          float64 `json:"max_position"`            // 单向最大持仓数量
	MaxDrawdown          float64 `json:"max_drawdown"`            // 最大回撤比例，触发后全部止损
	PricePrecision       int     `json:"price_precision"`         // 价格小数位数
	QuantityPrecision    int     `json:"quantity_precision"`      // 数量小数位数
	CheckInterval        int     `json:"check_interval"`          // 两次循环之间的等待秒数
	Leverage             int     `json:"leverage"`                // 杠杆倍数
	MinGridSpacing       float64 `json:"min_grid_spacing"`        // 最小网格间距比例
	MaxGridSpacing       float64 `json:"max_grid_spacing"`        // 最大网格间距比例
	GridPriceOffset      float64 `json:"grid_price_offset"`       // 网格价格偏移比例
	MaxSingleLoss        float64 `json:"max_single_loss"`         // 单笔最大亏损比例
	MaxDailyLoss         float64 `json:"max_daily_loss"`          // 每日最大亏损比例
	MaxHoldingTime       int64   `json:"max_holding_time"`        // 最大持仓时间 (秒)，超时强制平仓
	HistoryLength        int     `json:"history_length"`          // 价格历史窗口长度
	MaxActiveOrders      int     `json:"max_active_orders"`       // 每侧最大活跃订单数
	FeeRate              float64 `json:"fee_rate"`                // 手续费率
	MinProfit            float64 `json:"min_profit"`              // 单格最小利润要求 (USDT)
	MarginUsageThreshold float64 `json:"margin_usage_threshold"`  // 保证金使用率警戒线
	TrailingStopRatio    float64 `json:"trailing_stop_ratio"`     // 移动止损回撤比例 (0, 0.5]
	MaxOrdersPerBatch    int     `json:"max_orders_per_batch"`    // 批量下单时每批的上限
	OrderBatchDelayMs    int     `json:"order_batch_delay_ms"`    // 批次之间的延迟毫秒数
	ClosePositionsOnExit bool    `json:"close_positions_on_exit"` // 退出时是否清仓
	EnableOrderRetry     bool    `json:"enable_order_retry"`      // 下单失败时是否按重试策略重试
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// AccountInfo 定义了账户层面的资金与保证金信息
type AccountInfo struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalMaintMargin      string `json:"totalMaintMargin"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	AvailableBalance      string `json:"availableBalance"`
}

// Order 定义了订单信息
type Order struct {
	Symbol        string `json:"symbol"`
	OrderId       int64  `json:"orderId"`
	ClientOrderId string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// 订单方向常量，与交易所接口的取值保持一致。
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// EventType 标识行情事件通道上的消息类型
type EventType string

const (
	EventMids  EventType = "mids"  // 中间价快照
	EventFills EventType = "fills" // 成交通知（可能包含多笔）
)

// MarketEvent 是策略引擎唯一的入站事件。价格与数量保持交易所原始的
// 字符串形式，由引擎自行解析，解析失败按对应的错误类别处理。
type MarketEvent struct {
	Type  EventType
	Time  time.Time
	Mids  map[string]string // symbol -> 中间价
	Fills []Fill
}

// Fill 定义了一笔成交通知
type Fill struct {
	OrderID  int64
	Symbol   string
	Side     string // BUY / SELL
	Price    string
	Quantity string
	Time     time.Time
}

// CompletedTrade 记录一笔完成的交易（买入和卖出）
type CompletedTrade struct {
	Symbol       string
	Quantity     float64
	EntryTime    time.Time
	ExitTime     time.Time
	HoldDuration time.Duration
	EntryPrice   float64
	ExitPrice    float64
	Profit       float64
	Fee          float64
}

// MarkPriceEvent 是标记价格 WebSocket 流的事件结构
type MarkPriceEvent struct {
	EventType string `json:"e"` // "markPriceUpdate"
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// OrderUpdateEvent 是从用户数据流接收到的订单更新事件的完整结构
type OrderUpdateEvent struct {
	EventType       string          `json:"e"` // "ORDER_TRADE_UPDATE"
	EventTime       int64           `json:"E"`
	TransactionTime int64           `json:"T"`
	Order           OrderUpdateInfo `json:"o"`
}

// OrderUpdateInfo 包含了订单更新的具体信息
type OrderUpdateInfo struct {
	Symbol        string `json:"s"`  // Symbol
	ClientOrderID string `json:"c"`  // Client Order ID
	Side          string `json:"S"`  // Side
	OrderType     string `json:"o"`  // Order Type
	TimeInForce   string `json:"f"`  // Time in Force
	OrigQty       string `json:"q"`  // Original Quantity
	Price         string `json:"p"`  // Price
	ExecutionType string `json:"x"`  // Execution Type, e.g., "TRADE"
	Status        string `json:"X"`  // Order Status
	OrderID       int64  `json:"i"`  // Order ID
	ExecutedQty   string `json:"l"`  // Last Executed Quantity
	CumQty        string `json:"z"`  // Cumulative Filled Quantity
	ExecutedPrice string `json:"L"`  // Last Executed Price
	IsReduceOnly  bool   `json:"R"`  // Is this a reduce only order?
	TradeTime     int64  `json:"T"`  // Trade Time
	TradeID       int64  `json:"t"`  // Trade ID
}

// Error 定义了交易所API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得该结构体实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
