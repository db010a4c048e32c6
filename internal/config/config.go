package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-grid-trader-go/internal/errs"
	"binance-grid-trader-go/internal/models"
)

const (
	defaultHistoryLength     = 20
	defaultMaxOrdersPerBatch = 10
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中，
// 随后补齐默认值并校验网格参数。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config.Grid)
	if err := ValidateGridConfig(&config.Grid); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults 为未填写的可选参数补齐默认值
func applyDefaults(grid *models.GridConfig) {
	if grid.HistoryLength == 0 {
		grid.HistoryLength = defaultHistoryLength
	}
	if grid.MaxOrdersPerBatch <= 0 {
		grid.MaxOrdersPerBatch = defaultMaxOrdersPerBatch
	}
	if grid.OrderBatchDelayMs < 0 {
		grid.OrderBatchDelayMs = 0
	}
}

// ValidateGridConfig 校验网格参数的内部一致性，任何一项不满足即拒绝启动
func ValidateGridConfig(grid *models.GridConfig) error {
	if grid.TotalCapital <= 0 {
		return errs.New(errs.KindConfig, "总资金必须大于0")
	}
	if grid.TradeAmount <= 0 {
		return errs.New(errs.KindConfig, "每格交易金额必须大于0")
	}
	if grid.TradeAmount > grid.TotalCapital {
		return errs.New(errs.KindConfig, "每格交易金额不能超过总资金")
	}
	if grid.MaxPosition <= 0 {
		return errs.New(errs.KindConfig, "最大持仓必须大于0")
	}
	if grid.GridCount <= 0 {
		return errs.New(errs.KindConfig, "网格数量必须大于0")
	}

	if grid.MinGridSpacing <= 0 {
		return errs.New(errs.KindConfig, "最小网格间距必须大于0")
	}
	if grid.MaxGridSpacing <= grid.MinGridSpacing {
		return errs.New(errs.KindConfig, "最大网格间距必须大于最小网格间距")
	}

	if grid.FeeRate < 0 || grid.FeeRate > 0.1 {
		return errs.New(errs.KindConfig, "手续费率必须在0-10%之间")
	}
	// 网格间距至少要覆盖一买一卖的手续费成本
	minRequiredSpacing := grid.FeeRate * 2.5
	if grid.MinGridSpacing < minRequiredSpacing {
		return errs.Newf(errs.KindConfig,
			"最小网格间距(%.4f%%)过小，无法覆盖手续费成本，建议至少设置为%.4f%%",
			grid.MinGridSpacing*100, minRequiredSpacing*100)
	}

	if grid.MaxDrawdown <= 0 || grid.MaxDrawdown > 1 {
		return errs.New(errs.KindConfig, "最大回撤必须在0-100%之间")
	}
	if grid.MaxSingleLoss <= 0 || grid.MaxSingleLoss > 1 {
		return errs.New(errs.KindConfig, "单笔最大亏损必须在0-100%之间")
	}
	if grid.MaxDailyLoss <= 0 || grid.MaxDailyLoss > 1 {
		return errs.New(errs.KindConfig, "每日最大亏损必须在0-100%之间")
	}
	if grid.TrailingStopRatio <= 0 || grid.TrailingStopRatio > 0.5 {
		return errs.New(errs.KindConfig, "浮动止损比例必须在0-50%之间")
	}

	if grid.Leverage < 1 || grid.Leverage > 100 {
		return errs.New(errs.KindConfig, "杠杆倍数必须在1-100之间")
	}

	if grid.PricePrecision < 0 || grid.PricePrecision > 8 {
		return errs.New(errs.KindConfig, "价格精度不能超过8位小数")
	}
	if grid.QuantityPrecision < 0 || grid.QuantityPrecision > 8 {
		return errs.New(errs.KindConfig, "数量精度不能超过8位小数")
	}

	if grid.CheckInterval <= 0 {
		return errs.New(errs.KindConfig, "检查间隔必须大于0秒")
	}
	if grid.MaxHoldingTime <= 0 {
		return errs.New(errs.KindConfig, "最大持仓时间必须大于0秒")
	}

	if grid.MarginUsageThreshold <= 0 || grid.MarginUsageThreshold > 1 {
		return errs.New(errs.KindConfig, "保证金使用率阈值必须在0-100%之间")
	}

	if grid.HistoryLength < 2 {
		return errs.New(errs.KindConfig, "价格历史窗口长度必须至少为2")
	}

	// 资金必须足够支撑配置的网格数量
	maxPossibleOrders := int(grid.TotalCapital / grid.TradeAmount)
	if grid.GridCount > maxPossibleOrders {
		return errs.New(errs.KindConfig, fmt.Sprintf(
			"网格数量(%d)超过资金支持的最大订单数(%d)", grid.GridCount, maxPossibleOrders))
	}

	return nil
}

// GridConfigWarnings 返回不阻止启动但值得注意的参数组合提示
func GridConfigWarnings(grid *models.GridConfig) []string {
	var warnings []string

	if grid.TradeAmount > 0 {
		minProfitRate := grid.MinProfit / grid.TradeAmount
		if minProfitRate > grid.MinGridSpacing*0.5 {
			warnings = append(warnings, fmt.Sprintf(
				"最小利润要求(%.4f%%)相对于网格间距(%.4f%%)过高，可能影响成交频率",
				minProfitRate*100, grid.MinGridSpacing*100))
		}
	}

	if grid.CheckInterval < 5 {
		warnings = append(warnings, fmt.Sprintf(
			"检查间隔(%d秒)过短，可能导致过于频繁的API调用", grid.CheckInterval))
	} else if grid.CheckInterval > 300 {
		warnings = append(warnings, fmt.Sprintf(
			"检查间隔(%d秒)过长，可能错过重要的市场变化", grid.CheckInterval))
	}

	if grid.MaxOrdersPerBatch > 50 {
		warnings = append(warnings, fmt.Sprintf(
			"批量订单数量(%d)较大，可能触发API限制", grid.MaxOrdersPerBatch))
	}
	if grid.OrderBatchDelayMs > 0 && grid.OrderBatchDelayMs < 100 {
		warnings = append(warnings, fmt.Sprintf(
			"批量订单延迟(%dms)过短，可能触发API限制", grid.OrderBatchDelayMs))
	}

	return warnings
}
