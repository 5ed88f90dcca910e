// =============================================================================
// 文件: internal/aqm/estimator_test.go
// 描述: 排队时延 EWMA 测试
// =============================================================================
package aqm

import (
	"math"
	"testing"
	"time"
)

func TestDelayEstimatorUpdate(t *testing.T) {
	e := NewDelayEstimator(5)

	// 第一次更新: 0 + (32ms - 0) / 32 = 1ms
	got := e.Update(32 * time.Millisecond)
	if got != time.Millisecond {
		t.Errorf("第一次更新后平均值应为 1ms, got %v", got)
	}
	if e.Samples() != 1 {
		t.Errorf("样本数应为 1, got %d", e.Samples())
	}
}

func TestDelayEstimatorZeroExponent(t *testing.T) {
	// f_C=0 时权重为 1，平均值等于最新样本
	e := NewDelayEstimator(0)
	e.Update(7 * time.Millisecond)
	e.Update(3 * time.Millisecond)
	if math.Abs(e.AverageSeconds()-0.003) > 1e-12 {
		t.Errorf("平均值应等于最新样本 3ms, got %v", e.Average())
	}
}

func TestDelayEstimatorConvergence(t *testing.T) {
	const target = 10 * time.Millisecond

	for _, initial := range []time.Duration{0, 500 * time.Millisecond} {
		e := NewDelayEstimator(5)
		// 先用另一个值拉到不同的起点
		for i := 0; i < 1000; i++ {
			e.Update(initial)
		}
		for i := 0; i < 2000; i++ {
			e.Update(target)
		}
		if math.Abs(e.AverageSeconds()-target.Seconds()) > 1e-9 {
			t.Errorf("初始 %v: 应收敛到 %v, got %v", initial, target, e.Average())
		}
	}
}

func TestDelayEstimatorReset(t *testing.T) {
	e := NewDelayEstimator(2)
	e.Update(time.Second)
	e.Reset()
	if e.AverageSeconds() != 0 || e.Samples() != 0 {
		t.Errorf("重置后应为 0, got avg=%v samples=%d", e.AverageSeconds(), e.Samples())
	}
}
