// =============================================================================
// 文件: internal/classifier/classifier.go
// 描述: L4S 流量识别 - ECT(1)/CE 进入 L4S 队列，
//       近期出现过 ECT(0) 的流其 CE 包留在 Classic 队列
// =============================================================================

package classifier

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"k8s.io/utils/clock"

	"github.com/rathoresrikant/curvyred/internal/packet"
)

const (
	DefaultExpectedFlows = 10000
	DefaultFalsePositive = 0.001
	DefaultSliceDuration = 10 * time.Second
	DefaultSlices        = 6
)

// Config 分类器配置
type Config struct {
	// ClassicECNMemory 记住使用 ECT(0) 的流
	ClassicECNMemory bool
	SliceDuration    time.Duration
	Slices           int
	ExpectedFlows    uint
	FalsePositive    float64
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ClassicECNMemory: true,
		SliceDuration:    DefaultSliceDuration,
		Slices:           DefaultSlices,
		ExpectedFlows:    DefaultExpectedFlows,
		FalsePositive:    DefaultFalsePositive,
	}
}

// Stats 统计信息
type Stats struct {
	Total     uint64 `json:"total"`
	L4S       uint64 `json:"l4s"`
	Classic   uint64 `json:"classic"`
	CEClassic uint64 `json:"ce_classic"` // 被记忆留在 Classic 的 CE 包
	Rotations uint64 `json:"rotations"`
}

// Classifier 数据包分类器
type Classifier struct {
	cfg   Config
	clock clock.PassiveClock

	// 时间片环，slices[current] 接收新记录
	slices    []*bloom.BloomFilter
	current   int
	sliceFrom time.Time

	mu    sync.Mutex
	stats Stats
}

// New 创建分类器
func New(cfg Config, clk clock.PassiveClock) *Classifier {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.Slices <= 0 {
		cfg.Slices = DefaultSlices
	}
	if cfg.SliceDuration <= 0 {
		cfg.SliceDuration = DefaultSliceDuration
	}
	if cfg.ExpectedFlows == 0 {
		cfg.ExpectedFlows = DefaultExpectedFlows
	}
	if cfg.FalsePositive <= 0 || cfg.FalsePositive >= 1 {
		cfg.FalsePositive = DefaultFalsePositive
	}

	c := &Classifier{
		cfg:       cfg,
		clock:     clk,
		slices:    make([]*bloom.BloomFilter, cfg.Slices),
		sliceFrom: clk.Now(),
	}
	for i := range c.slices {
		c.slices[i] = c.newSlice()
	}
	return c
}

func (c *Classifier) newSlice() *bloom.BloomFilter {
	return bloom.NewWithEstimates(c.cfg.ExpectedFlows, c.cfg.FalsePositive)
}

// Classify 写入并返回分类结果
func (c *Classifier) Classify(p *packet.Packet) bool {
	p.L4S = c.IsL4S(p.FlowID, p.ECN)
	return p.L4S
}

// IsL4S 按 ECN 码点和流记忆判断
func (c *Classifier) IsL4S(flowID uint32, ecn packet.ECN) bool {
	atomic.AddUint64(&c.stats.Total, 1)

	var l4s bool
	switch ecn {
	case packet.ECT1:
		l4s = true
	case packet.CE:
		l4s = true
		if c.cfg.ClassicECNMemory && c.remembered(flowID) {
			atomic.AddUint64(&c.stats.CEClassic, 1)
			l4s = false
		}
	case packet.ECT0:
		if c.cfg.ClassicECNMemory {
			c.remember(flowID)
		}
	}

	if l4s {
		atomic.AddUint64(&c.stats.L4S, 1)
	} else {
		atomic.AddUint64(&c.stats.Classic, 1)
	}
	return l4s
}

func flowKey(flowID uint32) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], flowID)
	return key[:]
}

func (c *Classifier) remember(flowID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotateLocked()
	c.slices[c.current].Add(flowKey(flowID))
}

func (c *Classifier) remembered(flowID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotateLocked()
	key := flowKey(flowID)
	for _, s := range c.slices {
		if s.Test(key) {
			return true
		}
	}
	return false
}

// rotateLocked 按流逝的时间片数量淘汰最老的记录
func (c *Classifier) rotateLocked() {
	elapsed := c.clock.Since(c.sliceFrom)
	if elapsed < c.cfg.SliceDuration {
		return
	}

	steps := int(elapsed / c.cfg.SliceDuration)
	c.sliceFrom = c.sliceFrom.Add(time.Duration(steps) * c.cfg.SliceDuration)
	if steps > len(c.slices) {
		steps = len(c.slices)
	}
	for i := 0; i < steps; i++ {
		c.current = (c.current + 1) % len(c.slices)
		c.slices[c.current] = c.newSlice()
	}
	atomic.AddUint64(&c.stats.Rotations, uint64(steps))
}

// Stats 返回统计信息
func (c *Classifier) Stats() Stats {
	return Stats{
		Total:     atomic.LoadUint64(&c.stats.Total),
		L4S:       atomic.LoadUint64(&c.stats.L4S),
		Classic:   atomic.LoadUint64(&c.stats.Classic),
		CEClassic: atomic.LoadUint64(&c.stats.CEClassic),
		Rotations: atomic.LoadUint64(&c.stats.Rotations),
	}
}

// MemoryUsage 估计布隆过滤器占用的字节数
func (c *Classifier) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, s := range c.slices {
		total += int64(s.Cap() / 8)
	}
	return total
}
