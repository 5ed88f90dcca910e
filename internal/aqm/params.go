// =============================================================================
// 文件: internal/aqm/params.go
// 描述: DualQ 参数与校验 - 配置错误在 Configure 时立即失败
// =============================================================================
package aqm

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidParams 参数配置错误
	ErrInvalidParams = errors.New("aqm: 无效参数")
	// ErrCapacityExceeded 共享容量不足（强制丢包）
	ErrCapacityExceeded = errors.New("aqm: 超出队列容量")
)

const (
	DefaultQueueLimit             = 1000
	DefaultCouplingFactorExponent = 1.0
	DefaultClassicScalingExponent = -1.0
	DefaultEMADecayExponent       = 5.0
	DefaultCurviness              = 1
	DefaultL4SByteThreshold       = 2 * 1500
)

// Params DualQ 配置，初始化后不可变
type Params struct {
	Mode       Mode
	QueueLimit uint32 // 两个子队列共享的上限

	CouplingFactorExponent float64 // k0
	ClassicScalingExponent float64 // S_C，可为小数或负数
	EMADecayExponent       float64 // f_C，EWMA 权重 = 2^-f_C
	Curviness              int     // U，Classic 使用 2U，L4S 使用 U
	L4SByteThreshold       uint32  // L4S 子队列超过该字节数时强制标记
}

// DefaultParams 返回默认参数
func DefaultParams() Params {
	return Params{
		Mode:                   ModePackets,
		QueueLimit:             DefaultQueueLimit,
		CouplingFactorExponent: DefaultCouplingFactorExponent,
		ClassicScalingExponent: DefaultClassicScalingExponent,
		EMADecayExponent:       DefaultEMADecayExponent,
		Curviness:              DefaultCurviness,
		L4SByteThreshold:       DefaultL4SByteThreshold,
	}
}

// Validate 校验参数
func (p Params) Validate() error {
	if p.Mode != ModePackets && p.Mode != ModeBytes {
		return fmt.Errorf("%w: mode=%d", ErrInvalidParams, p.Mode)
	}
	if p.QueueLimit == 0 {
		return fmt.Errorf("%w: queue_limit 必须大于 0", ErrInvalidParams)
	}
	if p.Curviness < 0 {
		return fmt.Errorf("%w: curviness 不能为负数: %d", ErrInvalidParams, p.Curviness)
	}
	if p.EMADecayExponent < 0 {
		return fmt.Errorf("%w: ema_decay_exponent 不能为负数: %v", ErrInvalidParams, p.EMADecayExponent)
	}
	for name, v := range map[string]float64{
		"coupling_factor_exponent": p.CouplingFactorExponent,
		"classic_scaling_exponent": p.ClassicScalingExponent,
		"ema_decay_exponent":       p.EMADecayExponent,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s 必须是有限数: %v", ErrInvalidParams, name, v)
		}
	}
	return nil
}

// L4SScalingExponent S_L = S_C + k0
func (p Params) L4SScalingExponent() float64 {
	return p.ClassicScalingExponent + p.CouplingFactorExponent
}
