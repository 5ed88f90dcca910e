// =============================================================================
// 文件: internal/aqm/random.go
// 描述: 均匀随机数源 - 支持确定性种子以便复现
// =============================================================================
package aqm

import (
	"golang.org/x/exp/rand"
)

// DrawSource 产生 [0,1) 上独立同分布的均匀样本
type DrawSource interface {
	Float64() float64
}

// Reseeder 可按流编号重新播种的随机源
type Reseeder interface {
	Reseed(streamID int64)
}

// Stream 基于 PCG 的可播种随机流
type Stream struct {
	rng *rand.Rand
}

// NewStream 创建随机流
func NewStream(seed uint64) *Stream {
	return &Stream{rng: rand.New(rand.NewSource(seed))}
}

// Float64 返回 [0,1) 均匀样本
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// Reseed 切换到指定编号的流
func (s *Stream) Reseed(streamID int64) {
	s.rng.Seed(uint64(streamID))
}
