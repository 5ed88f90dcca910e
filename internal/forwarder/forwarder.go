// =============================================================================
// 文件: internal/forwarder/forwarder.go
// 描述: UDP 转发器 - 入口分类入队，出口按链路速率整形出队，
//       被标记的帧在发送前改写 ECN 字节
// =============================================================================
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/rathoresrikant/curvyred/internal/aqm"
	"github.com/rathoresrikant/curvyred/internal/classifier"
	"github.com/rathoresrikant/curvyred/internal/metrics"
	"github.com/rathoresrikant/curvyred/internal/packet"
	"github.com/rathoresrikant/curvyred/internal/protocol"
	"github.com/rathoresrikant/curvyred/internal/shaper"
)

const (
	readTimeout           = time.Second
	defaultReadBufferSize = 4 * 1024 * 1024
)

// Config 转发器配置
type Config struct {
	Listen         string
	Upstream       string
	ReadBufferSize int
}

// PacketWriter 出口写入
type PacketWriter interface {
	Write(b []byte) (int, error)
}

// Forwarder DualQ UDP 转发器
type Forwarder struct {
	cfg Config

	queue      *aqm.DualQ
	classifier *classifier.Classifier
	pacer      *shaper.Pacer
	metrics    *metrics.ForwarderMetrics

	clock  clock.Clock
	logger zerolog.Logger

	ingress *net.UDPConn
	egress  *net.UDPConn
	writer  PacketWriter

	// 入队后唤醒出口
	wake chan struct{}

	running int32
}

// Option 构造选项
type Option func(*Forwarder)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(f *Forwarder) {
		f.clock = c
	}
}

// WithWriter 替换出口写入（测试或自定义上游）
func WithWriter(w PacketWriter) Option {
	return func(f *Forwarder) {
		f.writer = w
	}
}

// WithLogger 注入日志
func WithLogger(l zerolog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// New 创建转发器
func New(cfg Config, queue *aqm.DualQ, cls *classifier.Classifier, pacer *shaper.Pacer,
	m *metrics.ForwarderMetrics, opts ...Option) *Forwarder {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	f := &Forwarder{
		cfg:        cfg,
		queue:      queue,
		classifier: cls,
		pacer:      pacer,
		metrics:    m,
		clock:      clock.RealClock{},
		logger:     zerolog.Nop(),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// QueueHooks 把 DualQ 的丢包/标记事件记录到转发器指标
func QueueHooks(m *metrics.ForwarderMetrics) aqm.Hooks {
	return aqm.Hooks{
		OnDrop: func(_ aqm.Item, reason aqm.DropReason) {
			m.RecordDrop(reason.String())
		},
		OnMark: func(aqm.Item) {
			m.RecordMark()
		},
	}
}

func classOf(p *packet.Packet) string {
	if p.L4S {
		return aqm.ClassL4S.String()
	}
	return aqm.ClassClassic.String()
}

// =============================================================================
// 启动与运行
// =============================================================================

// Listen 打开入口与出口套接字
func (f *Forwarder) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", f.cfg.Listen)
	if err != nil {
		return fmt.Errorf("解析监听地址: %w", err)
	}
	f.ingress, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	if err := f.ingress.SetReadBuffer(f.cfg.ReadBufferSize); err != nil {
		f.logger.Warn().Err(err).Msg("读缓冲区设置失败")
	}

	if f.writer == nil {
		upstream, err := net.ResolveUDPAddr("udp", f.cfg.Upstream)
		if err != nil {
			f.ingress.Close()
			return fmt.Errorf("解析上游地址: %w", err)
		}
		f.egress, err = net.DialUDP("udp", nil, upstream)
		if err != nil {
			f.ingress.Close()
			return fmt.Errorf("连接上游失败: %w", err)
		}
		f.writer = f.egress
	}

	f.logger.Info().
		Str("listen", f.ingress.LocalAddr().String()).
		Str("upstream", f.cfg.Upstream).
		Msg("转发器已监听")
	return nil
}

// LocalAddr 入口实际监听地址
func (f *Forwarder) LocalAddr() net.Addr {
	if f.ingress == nil {
		return nil
	}
	return f.ingress.LocalAddr()
}

// Serve 运行入口和出口循环，直到 ctx 取消或出现致命错误
func (f *Forwarder) Serve(ctx context.Context) error {
	if f.ingress == nil {
		return errors.New("forwarder: 未调用 Listen")
	}
	atomic.StoreInt32(&f.running, 1)
	defer atomic.StoreInt32(&f.running, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.ingressLoop(gctx)
	})
	g.Go(func() error {
		return f.egressLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		f.closeSockets()
		return nil
	})

	err := g.Wait()
	f.logger.Info().Msg("转发器已停止")
	return err
}

// Run Listen + Serve
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.Listen(); err != nil {
		return err
	}
	return f.Serve(ctx)
}

// IsRunning 是否正在运行
func (f *Forwarder) IsRunning() bool {
	return atomic.LoadInt32(&f.running) == 1
}

func (f *Forwarder) closeSockets() {
	if f.ingress != nil {
		f.ingress.Close()
	}
	if f.egress != nil {
		f.egress.Close()
	}
}

// =============================================================================
// 入口
// =============================================================================

func (f *Forwarder) ingressLoop(ctx context.Context) error {
	buf := make([]byte, protocol.MaxFrameSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f.ingress.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := f.ingress.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			f.metrics.RecordError("ingress")
			f.logger.Debug().Err(err).Msg("读取错误")
			continue
		}

		f.HandleDatagram(buf[:n])
	}
}

// HandleDatagram 解析、分类并入队一个数据报；data 会被复制
func (f *Forwarder) HandleDatagram(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)

	p, err := protocol.ToPacket(frame)
	if err != nil {
		f.metrics.RecordMalformed()
		f.logger.Trace().Err(err).Int("len", len(data)).Msg("丢弃无效帧")
		return err
	}

	f.classifier.Classify(p)
	p.ReceivedAt = f.clock.Now()
	f.metrics.RecordReceived(classOf(p), p.Size())

	if !f.queue.Enqueue(p) {
		return aqm.ErrCapacityExceeded
	}

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

// =============================================================================
// 出口
// =============================================================================

func (f *Forwarder) egressLoop(ctx context.Context) error {
	for {
		if wait := f.Drain(); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-f.clock.After(wait):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-f.wake:
		}
	}
}

// Drain 在整形器允许的范围内持续出队发送；
// 返回 0 表示队列已空，否则为需要等待的时间
func (f *Forwarder) Drain() time.Duration {
	for {
		head, ok := f.queue.Peek()
		if !ok {
			return 0
		}

		if wait := f.pacer.TimeUntilSend(head.Size()); wait > 0 {
			f.pacer.OnWait()
			f.metrics.RecordPacerWait()
			return wait
		}

		// 队头可能被 Classic AQM 丢弃，返回的包更大时按实际大小记欠账
		item, ok := f.queue.Dequeue()
		if !ok {
			return 0
		}
		f.transmit(item.(*packet.Packet))
	}
}

func (f *Forwarder) transmit(p *packet.Packet) {
	if p.Marked() {
		protocol.SetFrameECN(p.Frame, packet.CE)
	}

	if _, err := f.writer.Write(p.Frame); err != nil {
		f.metrics.RecordError("egress")
		f.logger.Debug().Err(err).Uint32("flow", p.FlowID).Msg("发送失败")
		return
	}

	f.pacer.OnPacketSent(p.Size())
	f.metrics.RecordSent(classOf(p), p.Size(), f.clock.Since(p.ReceivedAt))
}

// =============================================================================
// 统计
// =============================================================================

// Snapshot 实现 metrics.QueueStatsProvider
func (f *Forwarder) Snapshot() metrics.QueueSnapshot {
	params := f.queue.Params()
	stats := f.queue.Stats()
	classicBytes, classicPackets := f.queue.ClassOccupancy(aqm.ClassClassic)
	l4sBytes, l4sPackets := f.queue.ClassOccupancy(aqm.ClassL4S)
	cls := f.classifier.Stats()

	return metrics.QueueSnapshot{
		Mode:       params.Mode.String(),
		QueueLimit: params.QueueLimit,

		ClassicPackets: classicPackets,
		L4SPackets:     l4sPackets,
		ClassicBytes:   classicBytes,
		L4SBytes:       l4sBytes,

		AvgClassicDelaySeconds: f.queue.AverageClassicDelay().Seconds(),
		ClassicDropProb:        f.queue.ClassicDropProb(),
		L4SDropProb:            f.queue.L4SDropProb(),

		ForcedDrop:          stats.ForcedDrop,
		UnforcedClassicDrop: stats.UnforcedClassicDrop,
		UnforcedClassicMark: stats.UnforcedClassicMark,
		UnforcedL4SMark:     stats.UnforcedL4SMark,

		ClassifiedL4S:     cls.L4S,
		ClassifiedClassic: cls.Classic,
		CEKeptClassic:     cls.CEClassic,
	}
}

// GetStats 获取统计信息
func (f *Forwarder) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"running": f.IsRunning(),
		"queue":   f.queue.GetStats(),
		"pacer":   f.pacer.GetStats(),
	}
}
