package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"binance-grid-trader-go/internal/config"
	"binance-grid-trader-go/internal/downloader"
	"binance-grid-trader-go/internal/exchange"
	"binance-grid-trader-go/internal/logger"
	"binance-grid-trader-go/internal/models"
	"binance-grid-trader-go/internal/persistence"
	"binance-grid-trader-go/internal/reporter"
	"binance-grid-trader-go/internal/strategy"

	"github.com/joho/godotenv"
)

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]

	symbolParts := strings.Split(fileName, "-")
	if len(symbolParts) > 0 {
		return symbolParts[0]
	}
	return ""
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to backtest (e.g., BNBUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 先用默认配置初始化日志，保证加载 .env 和配置文件阶段也有日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	for _, w := range config.GridConfigWarnings(&cfg.Grid) {
		logger.S().Warn(w)
	}

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := handleBacktestMode(*symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'backtest'。", *mode)
	}
}

// handleBacktestMode 处理回测模式的启动逻辑，包括数据下载。
// 成功后返回数据文件路径，失败则返回错误。
func handleBacktestMode(symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""

	if shouldDownload {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
		}

		if _, err := os.Stat("data"); os.IsNotExist(err) {
			if err := os.Mkdir("data", 0755); err != nil {
				return "", fmt.Errorf("创建 data 目录失败: %v", err)
			}
		}

		dl := downloader.NewKlineDownloader(logger.S())
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", symbol, startDate, endDate)

		if err := dl.DownloadKlines(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("下载数据失败: %v", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
	}
	return dataPath, nil
}

// runLiveMode 运行实盘交易
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实时交易模式 ---")

	// 从环境变量加载API密钥
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}

	// 根据配置选择API地址
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		logger.S().Info("正在使用币安测试网...")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
		logger.S().Info("正在使用币安生产网...")
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "grid_state_db"
	}
	repo, err := persistence.NewBadgerRepository(dbPath)
	if err != nil {
		logger.S().Fatalf("初始化状态数据库失败: %v", err)
	}
	defer repo.Close()

	liveExchange, err := exchange.NewLiveExchange(
		apiKey, secretKey, cfg.BaseURL, cfg.WSBaseURL,
		cfg.Grid.Symbol, cfg.Grid.EnableOrderRetry, logger.S())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}
	defer liveExchange.Close()

	engine := strategy.NewEngine(cfg, liveExchange, repo, false, logger.S())
	if err := engine.Start(); err != nil {
		logger.S().Fatalf("策略启动失败: %v", err)
	}
	if err := liveExchange.Start(); err != nil {
		logger.S().Fatalf("启动行情数据流失败: %v", err)
	}

	go engine.Run()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.S().Infof("收到信号 %s，停止策略...", sig)
		engine.Stop()
		<-engine.Done()
	case <-engine.Done():
		// 风控终态或行情通道关闭会让事件循环自行退出
		logger.S().Warnf("策略事件循环已退出，状态: %s", engine.State())
	}

	engine.Shutdown()
	logger.S().Info("程序已退出。")
}

// runBacktestMode 运行回测模式
func runBacktestMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- 启动回测模式 ---")

	// 从数据路径中提取 symbol，并用它来覆盖 config 中的值
	backtestSymbol := extractSymbolFromPath(dataPath)
	if backtestSymbol == "" {
		logger.S().Fatalf("无法从数据文件路径 %s 中提取交易对", dataPath)
	}
	cfg.Grid.Symbol = backtestSymbol

	backtestExchange := exchange.NewBacktestExchange(cfg, logger.S())
	engine := strategy.NewEngine(cfg, backtestExchange, nil, true, logger.S())

	file, err := os.Open(dataPath)
	if err != nil {
		logger.S().Fatalf("无法打开历史数据文件: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		logger.S().Fatalf("无法读取所有CSV记录: %v", err)
	}
	if len(records) <= 1 {
		logger.S().Fatal("历史数据文件为空或只有表头。")
	}
	records = records[1:]

	startTimeMs, _ := strconv.ParseInt(records[0][0], 10, 64)
	endTimeMs, _ := strconv.ParseInt(records[len(records)-1][0], 10, 64)
	startTime := time.UnixMilli(startTimeMs)
	endTime := time.UnixMilli(endTimeMs)

	if err := engine.Start(); err != nil {
		logger.S().Fatalf("回测引擎初始化失败: %v", err)
	}

	logger.S().Info("开始回测...")
	for _, record := range records {
		timestampMs, errT := strconv.ParseInt(record[0], 10, 64)
		openPrice, errO := strconv.ParseFloat(record[1], 64)
		high, errH := strconv.ParseFloat(record[2], 64)
		low, errL := strconv.ParseFloat(record[3], 64)
		closePrice, errC := strconv.ParseFloat(record[4], 64)
		if errT != nil || errO != nil || errH != nil || errL != nil || errC != nil {
			logger.S().Warnf("无法解析K线数据，跳过此条记录: %v", record)
			continue
		}

		events := backtestExchange.SetPrice(openPrice, high, low, closePrice, time.UnixMilli(timestampMs))
		for _, ev := range events {
			engine.ProcessEvent(ev)
		}
		if engine.State() == strategy.StateStopped {
			logger.S().Warn("策略已进入终态，提前终止回测循环。")
			break
		}
	}
	logger.S().Info("回测结束。")

	engine.Shutdown()
	reporter.GenerateReport(backtestExchange, dataPath, startTime, endTime)
}
