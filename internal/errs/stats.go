package errs

import (
	"fmt"
	"strings"
)

// Statistics 按类别累计错误次数，供周期性报告使用。
// 仅在策略主循环内更新，不做并发保护。
type Statistics struct {
	counts [numKinds]uint64
	total  uint64
}

// Record 记录一个错误；非分类错误不计入
func (s *Statistics) Record(err error) {
	kind, ok := KindOf(err)
	if !ok {
		return
	}
	s.counts[kind]++
	s.total++
}

// RecordKind 直接按类别计数
func (s *Statistics) RecordKind(kind Kind) {
	if kind < 0 || int(kind) >= numKinds {
		return
	}
	s.counts[kind]++
	s.total++
}

// Count 返回某类别的累计次数
func (s *Statistics) Count(kind Kind) uint64 {
	if kind < 0 || int(kind) >= numKinds {
		return 0
	}
	return s.counts[kind]
}

// Total 返回错误总数
func (s *Statistics) Total() uint64 { return s.total }

// MostFrequent 返回出现次数最多的类别；无任何记录时返回 false。
// 并列时取序号最小的类别。
func (s *Statistics) MostFrequent() (Kind, bool) {
	var best Kind
	var bestCount uint64
	for k := 0; k < numKinds; k++ {
		if s.counts[k] > bestCount {
			best = Kind(k)
			bestCount = s.counts[k]
		}
	}
	if bestCount == 0 {
		return 0, false
	}
	return best, true
}

// Reset 清空全部计数
func (s *Statistics) Reset() {
	s.counts = [numKinds]uint64{}
	s.total = 0
}

// Report 生成错误统计报告
func (s *Statistics) Report() string {
	var b strings.Builder
	b.WriteString("=== 错误统计报告 ===\n")
	fmt.Fprintf(&b, "错误总数: %d\n", s.total)
	for k := 0; k < numKinds; k++ {
		if s.counts[k] == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %d\n", Kind(k), s.counts[k])
	}
	if kind, ok := s.MostFrequent(); ok {
		fmt.Fprintf(&b, "最频繁错误: %s\n", kind)
	}
	return b.String()
}
