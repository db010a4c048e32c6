package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"binance-grid-trader-go/internal/errs"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client *binance.Client
	logger *zap.SugaredLogger
}

// NewKlineDownloader 创建一个新的下载器实例。K线属于公共接口，不需要API Key。
func NewKlineDownloader(logger *zap.SugaredLogger) *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""),
		logger: logger,
	}
}

// DownloadKlines 下载指定交易对和时间范围内的1分钟K线数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
// 请求失败按网络错误的退避策略重试。
func (d *KlineDownloader) DownloadKlines(symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		d.logger.Infof("从缓存加载数据: %s", filePath)
		return nil
	}

	d.logger.Infof("开始下载 %s 从 %s 到 %s 的K线数据...",
		symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %v", err)
	}

	ctx := context.Background()
	for t := startTime; t.Before(endTime); {
		klines, err := d.fetchPage(ctx, symbol, t)
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %v", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				fmt.Sprintf("%d", k.OpenTime),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				fmt.Sprintf("%d", k.CloseTime),
				k.QuoteAssetVolume,
				fmt.Sprintf("%d", k.TradeNum),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %v", err)
			}
		}

		// 从最后一根K线的收盘时间继续下一页
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Infof("已下载数据至 %s", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // 避免过于频繁的请求
	}

	d.logger.Infof("成功下载K线数据到 %s", filePath)
	return nil
}

// fetchPage 拉取一页K线，失败时按网络错误策略退避重试。
// 币安单次请求最多返回1000条。
func (d *KlineDownloader) fetchPage(ctx context.Context, symbol string, start time.Time) ([]*binance.Kline, error) {
	var klines []*binance.Kline
	err := errs.Do(ctx, func() error {
		result, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(start.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return errs.Wrap(errs.KindNetwork, "请求K线接口失败", err)
		}
		klines = result
		return nil
	})
	return klines, err
}
