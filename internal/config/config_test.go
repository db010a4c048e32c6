package config

import (
	"os"
	"path/filepath"
	"testing"

	"binance-grid-trader-go/internal/errs"
	"binance-grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGridConfig() models.GridConfig {
	return models.GridConfig{
		Symbol:               "BTCUSDT",
		TotalCapital:         10000,
		GridCount:            10,
		TradeAmount:          100,
		MaxPosition:          1.0,
		MaxDrawdown:          0.2,
		PricePrecision:       2,
		QuantityPrecision:    3,
		CheckInterval:        60,
		Leverage:             10,
		MinGridSpacing:       0.005,
		MaxGridSpacing:       0.05,
		GridPriceOffset:      0.001,
		MaxSingleLoss:        0.02,
		MaxDailyLoss:         0.05,
		MaxHoldingTime:       86400,
		HistoryLength:        20,
		MaxActiveOrders:      20,
		FeeRate:              0.0002,
		MinProfit:            0.2,
		MarginUsageThreshold: 0.8,
		TrailingStopRatio:    0.05,
		MaxOrdersPerBatch:    10,
		OrderBatchDelayMs:    100,
	}
}

func TestValidateGridConfigValid(t *testing.T) {
	grid := validGridConfig()
	assert.NoError(t, ValidateGridConfig(&grid))
}

func TestValidateGridConfigRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.GridConfig)
	}{
		{"零总资金", func(g *models.GridConfig) { g.TotalCapital = 0 }},
		{"零交易金额", func(g *models.GridConfig) { g.TradeAmount = 0 }},
		{"交易金额超过总资金", func(g *models.GridConfig) { g.TradeAmount = 20000 }},
		{"零最大持仓", func(g *models.GridConfig) { g.MaxPosition = 0 }},
		{"零网格数量", func(g *models.GridConfig) { g.GridCount = 0 }},
		{"零最小间距", func(g *models.GridConfig) { g.MinGridSpacing = 0 }},
		{"最大间距不大于最小间距", func(g *models.GridConfig) { g.MaxGridSpacing = 0.005 }},
		{"负手续费率", func(g *models.GridConfig) { g.FeeRate = -0.001 }},
		{"过高手续费率", func(g *models.GridConfig) { g.FeeRate = 0.2 }},
		{"间距无法覆盖手续费", func(g *models.GridConfig) { g.FeeRate = 0.003 }},
		{"回撤超过100%", func(g *models.GridConfig) { g.MaxDrawdown = 1.5 }},
		{"零回撤", func(g *models.GridConfig) { g.MaxDrawdown = 0 }},
		{"零单笔亏损上限", func(g *models.GridConfig) { g.MaxSingleLoss = 0 }},
		{"零每日亏损上限", func(g *models.GridConfig) { g.MaxDailyLoss = 0 }},
		{"零浮动止损", func(g *models.GridConfig) { g.TrailingStopRatio = 0 }},
		{"过大浮动止损", func(g *models.GridConfig) { g.TrailingStopRatio = 0.6 }},
		{"零杠杆", func(g *models.GridConfig) { g.Leverage = 0 }},
		{"过高杠杆", func(g *models.GridConfig) { g.Leverage = 150 }},
		{"价格精度过高", func(g *models.GridConfig) { g.PricePrecision = 9 }},
		{"数量精度过高", func(g *models.GridConfig) { g.QuantityPrecision = 9 }},
		{"零检查间隔", func(g *models.GridConfig) { g.CheckInterval = 0 }},
		{"零最大持仓时间", func(g *models.GridConfig) { g.MaxHoldingTime = 0 }},
		{"零保证金阈值", func(g *models.GridConfig) { g.MarginUsageThreshold = 0 }},
		{"历史窗口过短", func(g *models.GridConfig) { g.HistoryLength = 1 }},
		{"网格数量超出资金支持", func(g *models.GridConfig) { g.GridCount = 200 }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			grid := validGridConfig()
			c.mutate(&grid)
			err := ValidateGridConfig(&grid)
			require.Error(t, err)
			kind, ok := errs.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, errs.KindConfig, kind)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	content := `{
		"is_testnet": true,
		"db_path": "./data",
		"live_api_url": "https://fapi.binance.com",
		"live_ws_url": "wss://fstream.binance.com",
		"testnet_api_url": "https://testnet.binancefuture.com",
		"testnet_ws_url": "wss://stream.binancefuture.com",
		"grid": {
			"symbol": "BTCUSDT",
			"total_capital": 10000,
			"grid_count": 10,
			"trade_amount": 100,
			"max_position": 1.0,
			"max_drawdown": 0.2,
			"price_precision": 2,
			"quantity_precision": 3,
			"check_interval": 60,
			"leverage": 10,
			"min_grid_spacing": 0.005,
			"max_grid_spacing": 0.05,
			"grid_price_offset": 0.001,
			"max_single_loss": 0.02,
			"max_daily_loss": 0.05,
			"max_holding_time": 86400,
			"max_active_orders": 20,
			"fee_rate": 0.0002,
			"min_profit": 0.5,
			"margin_usage_threshold": 0.8,
			"trailing_stop_ratio": 0.05
		},
		"log": {
			"level": "info",
			"output": "console"
		}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, "BTCUSDT", cfg.Grid.Symbol)
	assert.Equal(t, 10000.0, cfg.Grid.TotalCapital)
	assert.Equal(t, "info", cfg.LogConfig.Level)

	// 未填写的可选参数补齐默认值
	assert.Equal(t, 20, cfg.Grid.HistoryLength)
	assert.Equal(t, 10, cfg.Grid.MaxOrdersPerBatch)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigInvalidGrid(t *testing.T) {
	// 配置可解析但网格参数非法
	content := `{"grid": {"symbol": "BTCUSDT", "total_capital": 0}}`
	path := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConfig, kind)
}

func TestGridConfigWarnings(t *testing.T) {
	grid := validGridConfig()
	assert.Empty(t, GridConfigWarnings(&grid))

	// 最小利润相对间距过高
	grid.MinProfit = 1.0 // 1.0/100 = 1% > 0.5%*0.5
	warnings := GridConfigWarnings(&grid)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "最小利润")

	// 过短的检查间隔与批量延迟
	grid = validGridConfig()
	grid.CheckInterval = 2
	grid.OrderBatchDelayMs = 50
	warnings = GridConfigWarnings(&grid)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "检查间隔")
	assert.Contains(t, warnings[1], "批量订单延迟")

	// 超大批次
	grid = validGridConfig()
	grid.MaxOrdersPerBatch = 80
	warnings = GridConfigWarnings(&grid)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "批量订单数量")
}
