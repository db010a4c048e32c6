package exchange

import "binance-grid-trader-go/internal/models"

// Exchange 定义了策略引擎依赖的全部交易所能力。
// 同一接口同时覆盖实盘与回测，使策略逻辑可以在两者之间切换。
type Exchange interface {
	// PlaceOrder 提交一个GTC限价单。reduceOnly 订单只能减少已有仓位。
	// 返回交易所确认的订单，拒绝时返回错误。
	PlaceOrder(symbol, side string, price, quantity float64, reduceOnly bool) (*models.Order, error)
	// CancelOrder 撤销指定订单
	CancelOrder(symbol string, orderID int64) error
	// CancelAllOpenOrders 撤销该交易对的全部挂单
	CancelAllOpenOrders(symbol string) error
	// SetLeverage 设置杠杆倍数，启动时调用一次，失败则中止运行
	SetLeverage(symbol string, leverage int) error
	// GetAccountInfo 获取账户资金与保证金信息
	GetAccountInfo() (*models.AccountInfo, error)
	// Events 返回行情与成交事件流。通道关闭意味着连接已不可恢复，
	// 策略应立即退出而不再尝试平仓。
	Events() <-chan models.MarketEvent
	// Close 停止数据流并释放连接资源
	Close() error
}
