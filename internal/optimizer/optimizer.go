// Package optimizer 根据批量下单的历史耗时动态调整批次大小，
// 使每批执行时间向目标耗时收敛。
package optimizer

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	defaultInitialBatchSize = 10
	defaultTargetDuration   = 5 * time.Second

	// 调整判定阈值：平均耗时偏离目标超过 20% 或波动系数超过 0.3 时才调整
	deviationThreshold = 0.2
	cvThreshold        = 0.3

	// 趋势阈值：耗时趋势超过 ±10% 时附加微调
	trendThreshold = 0.1

	minSamplesForAdjust = 3
	minSamplesForTrend  = 5
	maxHistorySize      = 10

	baseCooldown     = 30 * time.Second
	extendedCooldown = 60 * time.Second
	// 连续调整超过该次数后进入更长的冷却期
	consecutiveLimit = 5
)

// BatchOptimizer 维护执行耗时窗口并给出最优批次大小。
// 非并发安全，由策略主循环独占使用。
type BatchOptimizer struct {
	executionTimes []time.Duration
	initialSize    int
	optimalSize    int
	targetDuration time.Duration
	minBatchSize   int
	maxBatchSize   int

	lastAdjustment         time.Time
	consecutiveAdjustments int

	now func() time.Time
}

// NewBatchOptimizer 创建批次优化器
func NewBatchOptimizer(initialSize int, target time.Duration) *BatchOptimizer {
	if initialSize <= 0 {
		initialSize = defaultInitialBatchSize
	}
	if target <= 0 {
		target = defaultTargetDuration
	}
	return &BatchOptimizer{
		executionTimes: make([]time.Duration, 0, maxHistorySize),
		initialSize:    initialSize,
		optimalSize:    initialSize,
		targetDuration: target,
		minBatchSize:   1,
		maxBatchSize:   200,
		now:            time.Now,
	}
}

// NewDefaultBatchOptimizer 创建默认参数的优化器 (初始批次 10, 目标耗时 5s)
func NewDefaultBatchOptimizer() *BatchOptimizer {
	return NewBatchOptimizer(defaultInitialBatchSize, defaultTargetDuration)
}

// RecordExecutionTime 记录一次批量执行的耗时，窗口满时淘汰最旧样本
func (o *BatchOptimizer) RecordExecutionTime(d time.Duration) {
	o.executionTimes = append(o.executionTimes, d)
	if len(o.executionTimes) > maxHistorySize {
		o.executionTimes = o.executionTimes[1:]
	}
}

// CalculateOptimalBatchSize 返回本次提交应使用的批次大小。
// 样本不足或处于冷却期时沿用当前最优值，且结果不超过待处理任务数。
func (o *BatchOptimizer) CalculateOptimalBatchSize(taskCount int) int {
	if taskCount <= o.minBatchSize {
		return taskCount
	}
	if len(o.executionTimes) < minSamplesForAdjust {
		return minInt(o.optimalSize, taskCount)
	}

	cooldown := baseCooldown
	if o.consecutiveAdjustments > consecutiveLimit {
		cooldown = extendedCooldown
	}
	if !o.lastAdjustment.IsZero() && o.now().Sub(o.lastAdjustment) < cooldown {
		return minInt(o.optimalSize, taskCount)
	}

	avg := o.averageSeconds()
	target := o.targetDuration.Seconds()
	deviation := math.Abs(avg-target) / target
	cv := o.coefficientOfVariation(avg)
	trend := o.performanceTrend()

	if deviation > deviationThreshold || cv > cvThreshold {
		size := float64(o.optimalSize)
		if avg > target*1.2 {
			size *= 0.9
		} else if avg < target*0.8 {
			size *= 1.1
		}
		if trend > trendThreshold {
			size *= 0.95
		} else if trend < -trendThreshold {
			size *= 1.05
		}

		newSize := clampInt(int(math.Round(size)), o.minBatchSize, o.maxBatchSize)
		if newSize != o.optimalSize {
			o.optimalSize = newSize
			o.lastAdjustment = o.now()
			o.consecutiveAdjustments++
		} else {
			o.consecutiveAdjustments = 0
		}
	} else {
		o.consecutiveAdjustments = 0
	}

	return minInt(o.optimalSize, taskCount)
}

// ForceBatchSize 强制设定批次大小，超出上下限时拒绝
func (o *BatchOptimizer) ForceBatchSize(size int) error {
	if size < o.minBatchSize || size > o.maxBatchSize {
		return fmt.Errorf("批次大小 %d 超出范围 [%d, %d]", size, o.minBatchSize, o.maxBatchSize)
	}
	o.optimalSize = size
	o.lastAdjustment = o.now()
	return nil
}

// OptimalBatchSize 返回当前最优批次大小
func (o *BatchOptimizer) OptimalBatchSize() int { return o.optimalSize }

// AverageExecutionTime 返回窗口内的平均耗时，无样本时为 0
func (o *BatchOptimizer) AverageExecutionTime() time.Duration {
	if len(o.executionTimes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range o.executionTimes {
		sum += d
	}
	return sum / time.Duration(len(o.executionTimes))
}

// PerformanceTrend 返回耗时趋势：正值表示执行在变慢
func (o *BatchOptimizer) PerformanceTrend() float64 {
	return o.performanceTrend()
}

// NeedsAdjustment 判断当前样本是否满足调整条件 (不考虑冷却期)
func (o *BatchOptimizer) NeedsAdjustment() bool {
	if len(o.executionTimes) < minSamplesForAdjust {
		return false
	}
	avg := o.averageSeconds()
	target := o.targetDuration.Seconds()
	deviation := math.Abs(avg-target) / target
	return deviation > deviationThreshold || o.coefficientOfVariation(avg) > cvThreshold
}

// AdjustmentSuggestion 返回面向日志的调整建议
func (o *BatchOptimizer) AdjustmentSuggestion() string {
	if len(o.executionTimes) < minSamplesForAdjust {
		return "样本不足，暂不调整"
	}
	avg := o.averageSeconds()
	target := o.targetDuration.Seconds()
	switch {
	case avg > target*1.2:
		return "执行耗时偏高，建议减小批次"
	case avg < target*0.8:
		return "执行耗时偏低，建议增大批次"
	default:
		return "批次大小合适"
	}
}

// TargetDuration 返回目标耗时
func (o *BatchOptimizer) TargetDuration() time.Duration { return o.targetDuration }

// SetTargetDuration 更新目标耗时，非正值被忽略
func (o *BatchOptimizer) SetTargetDuration(target time.Duration) {
	if target > 0 {
		o.targetDuration = target
	}
}

// HistoryCount 返回窗口内的样本数
func (o *BatchOptimizer) HistoryCount() int { return len(o.executionTimes) }

// BatchSizeBounds 返回批次大小的上下限
func (o *BatchOptimizer) BatchSizeBounds() (int, int) {
	return o.minBatchSize, o.maxBatchSize
}

// SetBatchSizeBounds 更新上下限并把当前最优值夹回新范围
func (o *BatchOptimizer) SetBatchSizeBounds(min, max int) error {
	if min <= 0 || max < min {
		return fmt.Errorf("非法批次范围 [%d, %d]", min, max)
	}
	o.minBatchSize = min
	o.maxBatchSize = max
	o.optimalSize = clampInt(o.optimalSize, min, max)
	return nil
}

// Reset 清空样本并恢复初始批次大小
func (o *BatchOptimizer) Reset() {
	o.executionTimes = o.executionTimes[:0]
	o.optimalSize = o.initialSize
	o.consecutiveAdjustments = 0
	o.lastAdjustment = time.Time{}
}

// Report 生成优化器状态报告
func (o *BatchOptimizer) Report() string {
	var b strings.Builder
	b.WriteString("=== 批次优化器状态 ===\n")
	fmt.Fprintf(&b, "当前批次大小: %d\n", o.optimalSize)
	fmt.Fprintf(&b, "目标耗时: %v\n", o.targetDuration)
	fmt.Fprintf(&b, "平均耗时: %v\n", o.AverageExecutionTime())
	fmt.Fprintf(&b, "耗时趋势: %.4f\n", o.performanceTrend())
	fmt.Fprintf(&b, "样本数: %d\n", len(o.executionTimes))
	fmt.Fprintf(&b, "连续调整次数: %d\n", o.consecutiveAdjustments)
	fmt.Fprintf(&b, "批次范围: [%d, %d]\n", o.minBatchSize, o.maxBatchSize)
	fmt.Fprintf(&b, "调整建议: %s\n", o.AdjustmentSuggestion())
	return b.String()
}

// averageSeconds 计算平均耗时 (秒)
func (o *BatchOptimizer) averageSeconds() float64 {
	if len(o.executionTimes) == 0 {
		return 0
	}
	var sum float64
	for _, d := range o.executionTimes {
		sum += d.Seconds()
	}
	return sum / float64(len(o.executionTimes))
}

// coefficientOfVariation 计算波动系数 (样本标准差/均值)
func (o *BatchOptimizer) coefficientOfVariation(avg float64) float64 {
	n := len(o.executionTimes)
	if n < 2 || avg == 0 {
		return 0
	}
	var sumSq float64
	for _, d := range o.executionTimes {
		diff := d.Seconds() - avg
		sumSq += diff * diff
	}
	std := math.Sqrt(sumSq / float64(n-1))
	return std / avg
}

// performanceTrend 比较新旧两半样本的均值：(新-旧)/旧
func (o *BatchOptimizer) performanceTrend() float64 {
	n := len(o.executionTimes)
	if n < minSamplesForTrend {
		return 0
	}
	mid := n / 2
	var older, newer float64
	for _, d := range o.executionTimes[:mid] {
		older += d.Seconds()
	}
	older /= float64(mid)
	for _, d := range o.executionTimes[mid:] {
		newer += d.Seconds()
	}
	newer /= float64(n - mid)
	if older == 0 {
		return 0
	}
	return (newer - older) / older
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
