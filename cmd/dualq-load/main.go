// =============================================================================
// 文件: cmd/dualq-load/main.go
// 描述: 流量发生器与接收端 - 产生带 ECN 码点的帧并统计 CE 标记与丢包
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rathoresrikant/curvyred/internal/logging"
	"github.com/rathoresrikant/curvyred/internal/packet"
	"github.com/rathoresrikant/curvyred/internal/protocol"
	"github.com/rathoresrikant/curvyred/internal/shaper"
)

var Version = "1.0.0"

// LoadConfig 运行参数
type LoadConfig struct {
	Mode     string // send, sink
	Target   string
	Listen   string
	Flows    int
	ECN      []packet.ECN
	Size     int
	RateMbps float64 // 每条流
	Duration time.Duration
	Report   time.Duration
	LogLevel string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New("dualq-load", cfg.LogLevel, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cfg.Mode {
	case "send":
		err = runSender(ctx, cfg, logger)
	case "sink":
		err = runSink(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("运行失败")
		os.Exit(1)
	}
}

// parseFlags 解析命令行参数
func parseFlags() (*LoadConfig, error) {
	mode := flag.String("mode", "send", "运行模式: send/sink")
	target := flag.String("target", "127.0.0.1:6000", "发送目标 (转发器入口)")
	listen := flag.String("listen", ":6001", "接收监听地址 (转发器上游)")
	flows := flag.Int("flows", 2, "并发流数量")
	ecn := flag.String("ecn", "ect1,not-ect", "每条流的 ECN 码点，逗号分隔，循环分配")
	size := flag.Int("size", 1200, "帧大小 (字节)")
	rate := flag.Float64("rate", 5, "每条流速率 (Mbps)")
	duration := flag.Duration("duration", 10*time.Second, "发送时长，0 表示直到中断")
	report := flag.Duration("report", time.Second, "接收端统计输出间隔")
	logLevel := flag.String("log", "info", "日志级别")
	showVersion := flag.Bool("v", false, "显示版本")

	flag.Parse()

	if *showVersion {
		fmt.Printf("DualQ Load v%s\n", Version)
		os.Exit(0)
	}

	cfg := &LoadConfig{
		Mode:     *mode,
		Target:   *target,
		Listen:   *listen,
		Flows:    *flows,
		Size:     *size,
		RateMbps: *rate,
		Duration: *duration,
		Report:   *report,
		LogLevel: *logLevel,
	}

	if cfg.Mode != "send" && cfg.Mode != "sink" {
		return nil, fmt.Errorf("未知模式: %s", cfg.Mode)
	}
	if cfg.Flows < 1 {
		return nil, errors.New("flows 至少为 1")
	}
	if cfg.Size < protocol.HeaderSize || cfg.Size > protocol.MaxFrameSize {
		return nil, fmt.Errorf("size 需在 %d-%d 之间", protocol.HeaderSize, protocol.MaxFrameSize)
	}
	for _, name := range strings.Split(*ecn, ",") {
		e, ok := packet.ParseECN(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("未知 ECN 码点: %s", name)
		}
		cfg.ECN = append(cfg.ECN, e)
	}
	if cfg.Report <= 0 {
		cfg.Report = time.Second
	}

	return cfg, nil
}

// =============================================================================
// 发送端
// =============================================================================

func runSender(ctx context.Context, cfg *LoadConfig, logger zerolog.Logger) error {
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	conn, err := net.Dial("udp", cfg.Target)
	if err != nil {
		return fmt.Errorf("连接目标失败: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Flows; i++ {
		flowID := uint32(i + 1)
		ecn := cfg.ECN[i%len(cfg.ECN)]

		g.Go(func() error {
			pacer := shaper.NewPacer(shaper.MbpsToBytes(cfg.RateMbps), cfg.Size, 1, nil)
			payload := make([]byte, cfg.Size-protocol.HeaderSize)
			var seq uint32

			logger.Info().Uint32("flow", flowID).Str("ecn", ecn.String()).Msg("开始发送")

			for {
				if wait := pacer.TimeUntilSend(cfg.Size); wait > 0 {
					select {
					case <-gctx.Done():
						return nil
					case <-time.After(wait):
					}
					continue
				}
				select {
				case <-gctx.Done():
					logger.Info().Uint32("flow", flowID).Uint32("sent", seq).Msg("发送结束")
					return nil
				default:
				}

				frame, err := protocol.BuildFrame(protocol.Header{ECN: ecn, FlowID: flowID, Seq: seq}, payload)
				if err != nil {
					return err
				}

				writeMu.Lock()
				_, err = conn.Write(frame)
				writeMu.Unlock()
				if err != nil {
					logger.Debug().Err(err).Uint32("flow", flowID).Msg("发送失败")
				}

				pacer.OnPacketSent(len(frame))
				seq++
			}
		})
	}

	return g.Wait()
}

// =============================================================================
// 接收端
// =============================================================================

// flowStats 单条流的接收统计
type flowStats struct {
	ecn      packet.ECN
	received uint64
	ce       uint64
	maxSeq   uint32
	bytes    uint64
}

func (f *flowStats) lost() uint64 {
	expected := uint64(f.maxSeq) + 1
	if f.received >= expected {
		return 0
	}
	return expected - f.received
}

type sink struct {
	flows map[uint32]*flowStats
	mu    sync.Mutex
}

func (s *sink) record(h protocol.Header, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.flows[h.FlowID]
	if !ok {
		fs = &flowStats{ecn: h.ECN}
		s.flows[h.FlowID] = fs
	}
	fs.received++
	fs.bytes += uint64(n)
	if h.ECN == packet.CE {
		fs.ce++
	} else {
		fs.ecn = h.ECN
	}
	if h.Seq > fs.maxSeq {
		fs.maxSeq = h.Seq
	}
}

func (s *sink) report(logger zerolog.Logger, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, len(s.flows))
	for id := range s.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		fs := s.flows[id]
		ceRatio := 0.0
		if fs.received > 0 {
			ceRatio = float64(fs.ce) / float64(fs.received)
		}
		logger.Info().
			Uint32("flow", id).
			Str("ecn", fs.ecn.String()).
			Uint64("received", fs.received).
			Uint64("lost", fs.lost()).
			Float64("ce_ratio", ceRatio).
			Float64("mbps", float64(fs.bytes)*8/elapsed.Seconds()/1e6).
			Msg("flow")
	}
}

func runSink(ctx context.Context, cfg *LoadConfig, logger zerolog.Logger) error {
	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("解析监听地址: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	s := &sink{flows: make(map[uint32]*flowStats)}
	start := time.Now()
	logger.Info().Str("listen", conn.LocalAddr().String()).Msg("接收端已启动")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		buf := make([]byte, protocol.MaxFrameSize)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			h, _, err := protocol.ParseFrame(buf[:n])
			if err != nil {
				logger.Debug().Err(err).Msg("无效帧")
				continue
			}
			s.record(h, n)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Report)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.report(logger, time.Since(start))
			}
		}
	})

	err = g.Wait()
	s.report(logger, time.Since(start))
	return err
}
