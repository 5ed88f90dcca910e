// =============================================================================
// 文件: cmd/dualq-forwarder/main.go
// 描述: 主程序入口 - DualQ Coupled AQM UDP 转发器，集成 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rathoresrikant/curvyred/internal/aqm"
	"github.com/rathoresrikant/curvyred/internal/classifier"
	"github.com/rathoresrikant/curvyred/internal/config"
	"github.com/rathoresrikant/curvyred/internal/forwarder"
	"github.com/rathoresrikant/curvyred/internal/logging"
	"github.com/rathoresrikant/curvyred/internal/metrics"
	"github.com/rathoresrikant/curvyred/internal/shaper"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空时使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")

	listen := flag.String("listen", "", "覆盖 forwarder.listen")
	upstream := flag.String("upstream", "", "覆盖 forwarder.upstream")
	rate := flag.Float64("rate", -1, "覆盖 forwarder.rate_mbps (0 表示不限速)")
	mode := flag.String("mode", "", "覆盖 aqm.mode: packets/bytes")
	logLevel := flag.String("log", "", "覆盖 log_level")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	// 加载配置
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
	}

	// 命令行覆盖
	if *listen != "" {
		cfg.Forwarder.Listen = *listen
	}
	if *upstream != "" {
		cfg.Forwarder.Upstream = *upstream
	}
	if *rate >= 0 {
		cfg.Forwarder.RateMbps = *rate
	}
	if *mode != "" {
		cfg.AQM.Mode = *mode
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("dualq-forwarder", cfg.LogLevel, nil)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("运行失败")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 创建 Metrics 服务器
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
			logging.Component(logger, "metrics"),
		)
	}

	var registry prometheus.Registerer = prometheus.NewRegistry()
	if metricsServer != nil {
		registry = metricsServer.GetRegistry()
	}
	fwdMetrics := metrics.NewForwarderMetrics(registry)

	// DualQ
	params, err := cfg.AQMParams()
	if err != nil {
		return err
	}
	opts := []aqm.Option{
		aqm.WithHooks(forwarder.QueueHooks(fwdMetrics)),
		aqm.WithLogger(logging.Component(logger, "aqm")),
	}
	if cfg.AQM.Seed != 0 {
		opts = append(opts, aqm.WithDrawSource(aqm.NewStream(cfg.AQM.Seed)))
	}
	queue, err := aqm.New(params, opts...)
	if err != nil {
		return err
	}
	if cfg.AQM.Stream != 0 {
		queue.AssignStreams(cfg.AQM.Stream)
	}

	cls := classifier.New(cfg.ClassifierOptions(), nil)
	pacer := shaper.NewPacer(
		shaper.MbpsToBytes(cfg.Forwarder.RateMbps),
		cfg.Forwarder.MTU,
		cfg.Forwarder.BurstPackets,
		nil,
	)

	fwd := forwarder.New(forwarder.Config{
		Listen:         cfg.Forwarder.Listen,
		Upstream:       cfg.Forwarder.Upstream,
		ReadBufferSize: cfg.Forwarder.ReadBufferSize,
	}, queue, cls, pacer, fwdMetrics, forwarder.WithLogger(logging.Component(logger, "forwarder")))

	if err := fwd.Listen(); err != nil {
		return err
	}

	// 注册 Prometheus 收集器
	if metricsServer != nil {
		metricsServer.MustRegisterCollector(metrics.NewDualQCollector(fwd))
		metricsServer.SetStatsStream(cfg.Metrics.StatsWSPath, cfg.StatsInterval(), fwd)
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return createHealthStatus(fwd)
		})

		if err := metricsServer.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics 启动失败 (继续运行)")
		}
		defer metricsServer.Stop()
	}

	printBanner(cfg, fwd, params)

	err = fwd.Serve(ctx)
	logger.Info().Interface("stats", fwd.GetStats()).Msg("正在关闭")
	return err
}

// =============================================================================
// 健康检查
// =============================================================================

func createHealthStatus(fwd *forwarder.Forwarder) metrics.HealthStatus {
	status := metrics.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		Uptime:     time.Since(startTime),
		Components: make(map[string]metrics.ComponentHealth),
	}

	if fwd.IsRunning() {
		status.Components["forwarder"] = metrics.ComponentHealth{Status: "healthy"}
	} else {
		status.Status = "degraded"
		status.Components["forwarder"] = metrics.ComponentHealth{
			Status:  "degraded",
			Message: "not running",
		}
	}

	snap := fwd.Snapshot()
	queueStatus := "healthy"
	if snap.QueueLimit > 0 && snap.Mode == aqm.ModePackets.String() &&
		snap.ClassicPackets+snap.L4SPackets >= uint64(snap.QueueLimit) {
		queueStatus = "degraded"
	}
	status.Components["queue"] = metrics.ComponentHealth{
		Status: queueStatus,
		Message: fmt.Sprintf("classic=%d l4s=%d p_c=%.4f p_l=%.4f",
			snap.ClassicPackets, snap.L4SPackets, snap.ClassicDropProb, snap.L4SDropProb),
	}

	return status
}

// =============================================================================
// 版本和横幅
// =============================================================================

func printVersion() {
	fmt.Printf("DualQ Forwarder v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  dualq-forwarder -listen :6000 -upstream 127.0.0.1:6001 -rate 10")
	fmt.Println("  dualq-forwarder -c config.yaml")
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
	fmt.Println("  - /stats/ws : websocket 实时队列统计")
}

func printBanner(cfg *config.Config, fwd *forwarder.Forwarder, p aqm.Params) {
	rate := "不限速"
	if cfg.Forwarder.RateMbps > 0 {
		rate = fmt.Sprintf("%.1f Mbps", cfg.Forwarder.RateMbps)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║         DualQ Forwarder - Coupled Curvy RED                      ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  入口: %-57s ║\n", fwd.LocalAddr())
	fmt.Printf("║  上游: %-57s ║\n", cfg.Forwarder.Upstream)
	fmt.Printf("║  瓶颈速率: %-53s ║\n", rate)
	fmt.Printf("║  队列: %-57s ║\n", fmt.Sprintf("%d %s", p.QueueLimit, p.Mode))
	fmt.Printf("║  S_C=%-6.2f k0=%-6.2f f_C=%-6.2f U=%-3d L4S 阈值=%-14d ║\n",
		p.ClassicScalingExponent, p.CouplingFactorExponent, p.EMADecayExponent,
		p.Curviness, p.L4SByteThreshold)
	if cfg.Metrics.Enabled {
		fmt.Printf("║  监控: %-57s ║\n", cfg.Metrics.Listen+cfg.Metrics.Path)
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
