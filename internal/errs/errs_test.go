package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityTable(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindConfig, 5},
		{KindWallet, 5},
		{KindClient, 4},
		{KindOrder, 2},
		{KindNetwork, 3},
		{KindSubscription, 3},
		{KindPriceParse, 2},
		{KindQuantityParse, 2},
		{KindMarginInsufficient, 5},
		{KindStopLoss, 3},
		{KindMarketAnalysis, 2},
		{KindFundAllocation, 3},
		{KindRebalance, 2},
		{KindRiskControl, 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.Severity(), "severity of %s", c.kind)
	}
}

func TestFatalKinds(t *testing.T) {
	fatal := map[Kind]bool{
		KindWallet:             true,
		KindClient:             true,
		KindMarginInsufficient: true,
		KindRiskControl:        true,
	}
	for k := Kind(0); k < numKinds; k++ {
		assert.Equal(t, fatal[k], k.IsFatal(), "fatality of %s", k)
	}
}

func TestRetryTable(t *testing.T) {
	// 网络与订阅错误走指数退避
	for _, k := range []Kind{KindNetwork, KindSubscription} {
		p := k.Retry()
		assert.Equal(t, ExponentialBackoff, p.Class)
		assert.Equal(t, 10, p.MaxAttempts)
		assert.Equal(t, time.Second, p.BaseDelay)
		assert.Equal(t, 30*time.Second, p.MaxDelay)
	}

	// 订单错误走线性退避
	p := KindOrder.Retry()
	assert.Equal(t, LinearBackoff, p.Class)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)

	// 市场分析错误立即重试
	p = KindMarketAnalysis.Retry()
	assert.Equal(t, Immediate, p.Class)
	assert.Equal(t, 3, p.MaxAttempts)

	// 其余类别不重试
	for _, k := range []Kind{KindConfig, KindWallet, KindClient, KindPriceParse,
		KindQuantityParse, KindMarginInsufficient, KindStopLoss, KindFundAllocation,
		KindRebalance, KindRiskControl} {
		assert.Equal(t, NoRetry, k.Retry().Class, "retry class of %s", k)
	}
}

func TestExponentialBackoffDelay(t *testing.T) {
	p := KindNetwork.Retry()
	assert.Equal(t, 2*time.Second, p.DelayForAttempt(1))
	assert.Equal(t, 4*time.Second, p.DelayForAttempt(2))
	assert.Equal(t, 8*time.Second, p.DelayForAttempt(3))
	assert.Equal(t, 16*time.Second, p.DelayForAttempt(4))
	// 2^5 = 32s 超过上限，截断到 30s
	assert.Equal(t, 30*time.Second, p.DelayForAttempt(5))
	// 指数封顶后保持 30s
	assert.Equal(t, 30*time.Second, p.DelayForAttempt(6))
	assert.Equal(t, 30*time.Second, p.DelayForAttempt(9))
}

func TestLinearBackoffDelay(t *testing.T) {
	p := KindOrder.Retry()
	assert.Equal(t, time.Second, p.DelayForAttempt(1))
	assert.Equal(t, 3*time.Second, p.DelayForAttempt(3))
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, KindConfig.Retry().ShouldRetry(1))
	assert.True(t, KindNetwork.Retry().ShouldRetry(9))
	assert.False(t, KindNetwork.Retry().ShouldRetry(10))
	assert.True(t, KindOrder.Retry().ShouldRetry(4))
	assert.False(t, KindOrder.Retry().ShouldRetry(5))
}

func TestErrorMessage(t *testing.T) {
	e := New(KindConfig, "grid_count 必须大于 0")
	assert.Equal(t, "配置错误: grid_count 必须大于 0", e.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(KindNetwork, "行情订阅失败", cause)
	assert.Contains(t, wrapped.Error(), "网络错误")
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.True(t, errors.Is(wrapped, cause))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(Newf(KindOrder, "下单失败: %s", "BTCUSDT"))
	require.True(t, ok)
	assert.Equal(t, KindOrder, kind)

	// 错误链中也能识别
	chained := fmt.Errorf("tick: %w", New(KindStopLoss, "平仓失败"))
	kind, ok = KindOf(chained)
	require.True(t, ok)
	assert.Equal(t, KindStopLoss, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsFatalError(errors.New("plain")))
	assert.True(t, IsFatalError(New(KindMarginInsufficient, "可用保证金不足")))
}

func TestStatistics(t *testing.T) {
	var s Statistics
	_, ok := s.MostFrequent()
	assert.False(t, ok)

	s.Record(New(KindNetwork, "a"))
	s.Record(New(KindNetwork, "b"))
	s.Record(New(KindOrder, "c"))
	s.Record(errors.New("plain")) // 非分类错误不计入

	assert.Equal(t, uint64(3), s.Total())
	assert.Equal(t, uint64(2), s.Count(KindNetwork))
	assert.Equal(t, uint64(1), s.Count(KindOrder))

	kind, ok := s.MostFrequent()
	require.True(t, ok)
	assert.Equal(t, KindNetwork, kind)

	report := s.Report()
	assert.Contains(t, report, "错误总数: 3")
	assert.Contains(t, report, "网络错误: 2")
	assert.Contains(t, report, "最频繁错误: 网络错误")

	s.Reset()
	assert.Equal(t, uint64(0), s.Total())
	_, ok = s.MostFrequent()
	assert.False(t, ok)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return New(KindMarketAnalysis, "数据不足")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return New(KindMarketAnalysis, "数据不足")
	})
	require.Error(t, err)
	// 最多执行 MaxAttempts 次
	assert.Equal(t, 3, calls)
}

func TestDoNoRetryKinds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return New(KindConfig, "非法配置")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	// 普通错误同样不重试
	calls = 0
	err = Do(context.Background(), func() error {
		calls++
		return errors.New("plain")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	start := time.Now()
	err := Do(ctx, func() error {
		calls++
		return New(KindNetwork, "超时")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	// 上下文已取消时不等待退避延迟
	assert.Less(t, time.Since(start), time.Second)
}
