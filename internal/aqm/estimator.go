// =============================================================================
// 文件: internal/aqm/estimator.go
// 描述: Classic 队列排队时延 EWMA 估算
// =============================================================================
package aqm

import (
	"math"
	"time"
)

// DelayEstimator 排队时延指数加权移动平均
//
// avg = avg + (sample - avg) / 2^f_C
type DelayEstimator struct {
	avg    float64 // 秒
	weight float64 // 2^-f_C

	samples uint64
}

// NewDelayEstimator 创建估算器
func NewDelayEstimator(decayExponent float64) *DelayEstimator {
	return &DelayEstimator{
		weight: math.Exp2(-decayExponent),
	}
}

// Update 输入一个时延样本，返回新的平均值
func (e *DelayEstimator) Update(sample time.Duration) time.Duration {
	e.avg += (sample.Seconds() - e.avg) * e.weight
	e.samples++
	return e.Average()
}

// Average 当前平均时延
func (e *DelayEstimator) Average() time.Duration {
	return time.Duration(e.avg * float64(time.Second))
}

// AverageSeconds 当前平均时延（秒）
func (e *DelayEstimator) AverageSeconds() float64 {
	return e.avg
}

// Samples 已处理的样本数
func (e *DelayEstimator) Samples() uint64 {
	return e.samples
}

// Reset 重置
func (e *DelayEstimator) Reset() {
	e.avg = 0
	e.samples = 0
}
