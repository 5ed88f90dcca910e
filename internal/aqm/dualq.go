// =============================================================================
// 文件: internal/aqm/dualq.go
// 描述: DualQ Coupled Curvy RED 调度核心
//       L4S 严格优先，Classic 排队时间耦合到 L4S 标记概率
// =============================================================================
package aqm

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// DualQ 双队列耦合 AQM
type DualQ struct {
	params Params

	// 派生状态
	l4sScale        float64 // 2^S_L
	classicScale    float64 // 2^S_C
	classicDropProb float64
	l4sDropProb     float64

	store     *Store
	estimator *DelayEstimator
	curvy     *Curvy
	stats     Stats

	clock  clock.PassiveClock
	hooks  Hooks
	logger zerolog.Logger

	mu sync.Mutex
}

// Option DualQ 构造选项
type Option func(*DualQ)

// WithClock 注入时钟
func WithClock(c clock.PassiveClock) Option {
	return func(q *DualQ) {
		q.clock = c
	}
}

// WithDrawSource 注入随机源
func WithDrawSource(src DrawSource) Option {
	return func(q *DualQ) {
		q.curvy = NewCurvy(src)
	}
}

// WithHooks 注入丢包/标记回调
func WithHooks(h Hooks) Option {
	return func(q *DualQ) {
		q.hooks = h
	}
}

// WithLogger 注入日志
func WithLogger(l zerolog.Logger) Option {
	return func(q *DualQ) {
		q.logger = l
	}
}

// New 创建 DualQ 并完成首次配置
func New(params Params, opts ...Option) (*DualQ, error) {
	q := &DualQ{
		clock:  clock.RealClock{},
		curvy:  NewCurvy(NewStream(uint64(time.Now().UnixNano()))),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.Configure(params); err != nil {
		return nil, err
	}
	return q, nil
}

// Configure 应用参数并重置派生状态与统计；已驻留的数据包保留
func (q *DualQ) Configure(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.params = params
	q.classicScale = math.Exp2(params.ClassicScalingExponent)
	q.l4sScale = math.Exp2(params.L4SScalingExponent())
	q.classicDropProb = 0
	q.l4sDropProb = 0
	q.estimator = NewDelayEstimator(params.EMADecayExponent)
	q.stats = Stats{}

	if q.store == nil {
		q.store = NewStore(params.Mode, params.QueueLimit)
	} else {
		q.store.SetLimit(params.Mode, params.QueueLimit)
	}

	q.logger.Debug().
		Str("mode", params.Mode.String()).
		Uint32("queue_limit", params.QueueLimit).
		Float64("k0", params.CouplingFactorExponent).
		Float64("s_c", params.ClassicScalingExponent).
		Float64("s_l", params.L4SScalingExponent()).
		Float64("f_c", params.EMADecayExponent).
		Int("curviness", params.Curviness).
		Uint32("l4s_byte_threshold", params.L4SByteThreshold).
		Msg("dualq configured")
	return nil
}

// =============================================================================
// 入队
// =============================================================================

// Enqueue 入队；共享容量不足时强制丢包并返回 false
func (q *DualQ) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	class := q.store.Classify(item)

	if err := q.store.TryEnqueue(item, class); err != nil {
		q.stats.ForcedDrop++
		q.logger.Trace().
			Str("class", class.String()).
			Int("size", item.Size()).
			Uint64("queue_size", q.store.Size()).
			Msg("forced drop")
		q.drop(item, DropForced)
		return false
	}

	item.SetTimestamp(now)
	return true
}

// =============================================================================
// 出队
// =============================================================================

// Dequeue 每个调度机会执行一次：L4S 非空时严格优先，否则服务 Classic
func (q *DualQ) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()

	if q.store.Len(ClassL4S) > 0 {
		return q.dequeueL4S(now), true
	}
	return q.dequeueClassic(now)
}

// dequeueL4S L4S 只标记不丢包
func (q *DualQ) dequeueL4S(now time.Time) Item {
	// 耦合信号：Classic 队头的逗留时间，不取出
	var classicQueueTime time.Duration
	if head, ok := q.store.PeekHead(ClassClassic); ok {
		classicQueueTime = sojourn(head, now)
	}

	// 取出前的 L4S 字节占用（包含队头）
	l4sBytes := q.store.Bytes(ClassL4S)

	item, _ := q.store.DequeueHead(ClassL4S)

	q.l4sDropProb = classicQueueTime.Seconds() / q.l4sScale

	if l4sBytes > uint64(q.params.L4SByteThreshold) ||
		q.curvy.Decide(q.l4sDropProb, q.params.Curviness) {
		item.MarkCE()
		q.stats.UnforcedL4SMark++
		if q.hooks.OnMark != nil {
			q.hooks.OnMark(item)
		}
	}

	item.ClearTimestamp()
	return item
}

// dequeueClassic 循环直到返回一个未被丢弃的包或队列为空
func (q *DualQ) dequeueClassic(now time.Time) (Item, bool) {
	for {
		item, ok := q.store.DequeueHead(ClassClassic)
		if !ok {
			return nil, false
		}

		q.estimator.Update(sojourn(item, now))
		q.classicDropProb = q.estimator.AverageSeconds() / q.classicScale

		if q.curvy.Decide(q.classicDropProb, 2*q.params.Curviness) {
			q.stats.UnforcedClassicDrop++
			item.ClearTimestamp()
			q.drop(item, DropUnforcedClassic)
			continue
		}

		item.ClearTimestamp()
		return item, true
	}
}

// Peek 查看下一次出队优先考虑的数据包
func (q *DualQ) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.store.PeekHead(ClassL4S); ok {
		return item, true
	}
	return q.store.PeekHead(ClassClassic)
}

func (q *DualQ) drop(item Item, reason DropReason) {
	if q.hooks.OnDrop != nil {
		q.hooks.OnDrop(item, reason)
	}
}

// sojourn 数据包在队列中的逗留时间
func sojourn(item Item, now time.Time) time.Duration {
	ts, ok := item.Timestamp()
	if !ok {
		return 0
	}
	d := now.Sub(ts)
	if d < 0 {
		return 0
	}
	return d
}

// =============================================================================
// 查询
// =============================================================================

// Stats 统计快照
func (q *DualQ) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// AverageClassicDelay Classic 平均排队时延
func (q *DualQ) AverageClassicDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.estimator.Average()
}

// ClassicDropProb 最近一次计算的 Classic 丢包度量
func (q *DualQ) ClassicDropProb() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.classicDropProb
}

// L4SDropProb 最近一次计算的 L4S 标记度量
func (q *DualQ) L4SDropProb() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l4sDropProb
}

// QueueSize 按配置模式计量的占用
func (q *DualQ) QueueSize() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Size()
}

// Occupancy 合计字节数与包数
func (q *DualQ) Occupancy() (bytes, packets uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Occupancy()
}

// ClassOccupancy 单个子队列的字节数与包数
func (q *DualQ) ClassOccupancy(class Class) (bytes, packets uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Bytes(class), q.store.Len(class)
}

// Params 当前参数
func (q *DualQ) Params() Params {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.params
}

// Mode 当前计量模式
func (q *DualQ) Mode() Mode {
	return q.Params().Mode
}

// AssignStreams 为随机源指定流编号，返回使用的流数量
func (q *DualQ) AssignStreams(stream int64) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.curvy.Source().(Reseeder); ok {
		r.Reseed(stream)
	}
	return 1
}

// GetStats 获取统计信息
func (q *DualQ) GetStats() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	bytes, packets := q.store.Occupancy()
	return map[string]interface{}{
		"mode":                  q.params.Mode.String(),
		"queue_limit":           q.params.QueueLimit,
		"bytes":                 bytes,
		"packets":               packets,
		"classic_packets":       q.store.Len(ClassClassic),
		"l4s_packets":           q.store.Len(ClassL4S),
		"avg_classic_delay_ms":  float64(q.estimator.Average()) / float64(time.Millisecond),
		"classic_delay_samples": q.estimator.Samples(),
		"classic_drop_prob":     q.classicDropProb,
		"l4s_drop_prob":         q.l4sDropProb,
		"forced_drop":           q.stats.ForcedDrop,
		"unforced_classic_drop": q.stats.UnforcedClassicDrop,
		"unforced_classic_mark": q.stats.UnforcedClassicMark,
		"unforced_l4s_mark":     q.stats.UnforcedL4SMark,
	}
}
