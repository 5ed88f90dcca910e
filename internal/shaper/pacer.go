// =============================================================================
// 文件: internal/shaper/pacer.go
// 描述: 出口整形 - 令牌桶把出队速率限制在链路速率，使队列在本地堆积
// =============================================================================
package shaper

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	defaultMTU          = 1500
	defaultBurstPackets = 2
	minLinkRate         = 10 * 1024 // 10 KB/s
)

// Pacer 链路速率令牌桶，rate<=0 表示不限速
type Pacer struct {
	rate float64 // bytes/s

	tokens     float64
	maxTokens  float64
	lastRefill time.Time

	mtu   int
	clock clock.PassiveClock

	// 统计
	packetsSent uint64
	bytesSent   uint64
	waits       uint64

	mu sync.Mutex
}

// NewPacer 创建整形器
func NewPacer(rate float64, mtu, burstPackets int, clk clock.PassiveClock) *Pacer {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	if burstPackets <= 0 {
		burstPackets = defaultBurstPackets
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	maxTokens := float64(mtu * burstPackets)
	return &Pacer{
		rate:       clampRate(rate),
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastRefill: clk.Now(),
		mtu:        mtu,
		clock:      clk,
	}
}

// MbpsToBytes 兆比特每秒转换为字节每秒
func MbpsToBytes(mbps float64) float64 {
	return mbps * 1000 * 1000 / 8
}

func clampRate(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	if rate < minLinkRate {
		return minLinkRate
	}
	return rate
}

// SetPacingRate 设置链路速率
func (p *Pacer) SetPacingRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refillTokens()
	p.rate = clampRate(rate)
}

// GetPacingRate 当前速率 (bytes/s)
func (p *Pacer) GetPacingRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Unlimited 是否不限速
func (p *Pacer) Unlimited() bool {
	return p.GetPacingRate() == 0
}

// TimeUntilSend 距离可以发送 packetSize 字节的时间
// 超过桶容量的包在桶满时即可发送，超出部分记为欠账
func (p *Pacer) TimeUntilSend(packetSize int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rate == 0 {
		return 0
	}
	p.refillTokens()

	needed := float64(packetSize)
	if needed > p.maxTokens {
		needed = p.maxTokens
	}
	if p.tokens >= needed {
		return 0
	}

	wait := time.Duration((needed - p.tokens) / p.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Nanosecond
	}
	return wait
}

// OnPacketSent 数据包发送后扣除令牌
func (p *Pacer) OnPacketSent(packetSize int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.packetsSent++
	p.bytesSent += uint64(packetSize)

	if p.rate == 0 {
		return
	}
	p.refillTokens()

	// 允许为负：欠账由后续补充偿还，平均速率不超过链路速率
	p.tokens -= float64(packetSize)
}

// OnWait 记录一次因令牌不足的等待
func (p *Pacer) OnWait() {
	p.mu.Lock()
	p.waits++
	p.mu.Unlock()
}

// refillTokens 补充令牌
func (p *Pacer) refillTokens() {
	now := p.clock.Now()
	elapsed := now.Sub(p.lastRefill)
	p.lastRefill = now

	if elapsed <= 0 {
		return
	}

	p.tokens += p.rate * elapsed.Seconds()
	if p.tokens > p.maxTokens {
		p.tokens = p.maxTokens
	}
}

// GetPacingInterval 以当前速率发送一个包的间隔
func (p *Pacer) GetPacingInterval(packetSize int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rate == 0 {
		return 0
	}
	return time.Duration(float64(packetSize) / p.rate * float64(time.Second))
}

// CanSend 是否可以立即发送
func (p *Pacer) CanSend(packetSize int) bool {
	return p.TimeUntilSend(packetSize) == 0
}

// SetBurstAllowed 设置允许的突发包数
func (p *Pacer) SetBurstAllowed(packets int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if packets <= 0 {
		packets = 1
	}
	p.maxTokens = float64(packets * p.mtu)
	p.tokens = p.maxTokens
}

// Reset 重置
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokens = p.maxTokens
	p.lastRefill = p.clock.Now()
	p.packetsSent = 0
	p.bytesSent = 0
	p.waits = 0
}

// GetStats 获取统计
func (p *Pacer) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"rate_mbps":    p.rate * 8 / 1000 / 1000,
		"tokens":       p.tokens,
		"max_tokens":   p.maxTokens,
		"packets_sent": p.packetsSent,
		"bytes_sent":   p.bytesSent,
		"waits":        p.waits,
	}
}
