// Package errs 定义了策略的错误分类体系：十四种错误类别，
// 每种类别映射到严重级别、是否致命以及对应的重试策略。
// 映射关系全部以查表方式实现，便于单独测试。
package errs

import (
	"errors"
	"fmt"
)

// Kind 标识错误类别
type Kind int

const (
	KindConfig Kind = iota // 配置错误
	KindWallet             // 钱包错误
	KindClient             // 客户端错误
	KindOrder              // 订单错误
	KindNetwork            // 网络错误
	KindSubscription       // 订阅错误
	KindPriceParse         // 价格解析错误
	KindQuantityParse      // 数量解析错误
	KindMarginInsufficient // 保证金不足
	KindStopLoss           // 止损错误
	KindMarketAnalysis     // 市场分析错误
	KindFundAllocation     // 资金分配错误
	KindRebalance          // 重平衡错误
	KindRiskControl        // 风控触发
)

// numKinds 是类别总数，统计数组以此定长
const numKinds = 14

// kindLabels 是各类别的展示名称，用于日志与统计报告
var kindLabels = [numKinds]string{
	KindConfig:             "配置错误",
	KindWallet:             "钱包错误",
	KindClient:             "客户端错误",
	KindOrder:              "订单错误",
	KindNetwork:            "网络错误",
	KindSubscription:       "订阅错误",
	KindPriceParse:         "价格解析错误",
	KindQuantityParse:      "数量解析错误",
	KindMarginInsufficient: "保证金不足",
	KindStopLoss:           "止损错误",
	KindMarketAnalysis:     "市场分析错误",
	KindFundAllocation:     "资金分配错误",
	KindRebalance:          "重平衡错误",
	KindRiskControl:        "风控触发",
}

// severityTable 定义各类别的严重级别 (1-5, 5为最严重)
var severityTable = [numKinds]int{
	KindConfig:             5,
	KindWallet:             5,
	KindClient:             4,
	KindOrder:              2,
	KindNetwork:            3,
	KindSubscription:       3,
	KindPriceParse:         2,
	KindQuantityParse:      2,
	KindMarginInsufficient: 5,
	KindStopLoss:           3,
	KindMarketAnalysis:     2,
	KindFundAllocation:     3,
	KindRebalance:          2,
	KindRiskControl:        4,
}

// fatalKinds 标记会导致策略终止的类别
var fatalKinds = [numKinds]bool{
	KindWallet:             true,
	KindClient:             true,
	KindMarginInsufficient: true,
	KindRiskControl:        true,
}

func (k Kind) String() string {
	if k < 0 || int(k) >= numKinds {
		return fmt.Sprintf("未知错误(%d)", int(k))
	}
	return kindLabels[k]
}

// Severity 返回类别的严重级别
func (k Kind) Severity() int {
	if k < 0 || int(k) >= numKinds {
		return 1
	}
	return severityTable[k]
}

// IsFatal 返回该类别是否致命
func (k Kind) IsFatal() bool {
	if k < 0 || int(k) >= numKinds {
		return false
	}
	return fatalKinds[k]
}

// Retry 返回该类别对应的重试策略
func (k Kind) Retry() RetryPolicy {
	return retryTable[k]
}

// Error 是携带类别信息的策略错误
type Error struct {
	Kind    Kind
	Message string
	Err     error // 可选的底层原因
}

// New 创建一个指定类别的错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf 创建一个带格式化消息的错误
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装一个底层错误并赋予类别
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Severity 返回错误的严重级别
func (e *Error) Severity() int { return e.Kind.Severity() }

// IsFatal 返回错误是否致命
func (e *Error) IsFatal() bool { return e.Kind.IsFatal() }

// Retry 返回错误对应的重试策略
func (e *Error) Retry() RetryPolicy { return e.Kind.Retry() }

// KindOf 提取错误链中的类别；非分类错误返回 false
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsFatalError 判断错误链中是否存在致命类别
func IsFatalError(err error) bool {
	if kind, ok := KindOf(err); ok {
		return kind.IsFatal()
	}
	return false
}
