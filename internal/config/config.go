// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - AQM 参数、分类器、转发器与监控配置
//       错误配置在启动前被拦截，端口冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rathoresrikant/curvyred/internal/aqm"
	"github.com/rathoresrikant/curvyred/internal/classifier"
	"github.com/rathoresrikant/curvyred/internal/logging"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	AQM        AQMConfig        `yaml:"aqm"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Forwarder  ForwarderConfig  `yaml:"forwarder"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AQMConfig DualQ 参数
type AQMConfig struct {
	Mode                   string  `yaml:"mode"` // packets, bytes
	QueueLimit             uint32  `yaml:"queue_limit"`
	CouplingFactorExponent float64 `yaml:"coupling_factor_exponent"` // k0
	ClassicScalingExponent float64 `yaml:"classic_scaling_exponent"` // S_C
	EMADecayExponent       float64 `yaml:"ema_decay_exponent"`       // f_C
	Curviness              int     `yaml:"curviness"`                // U
	L4SByteThreshold       uint32  `yaml:"l4s_byte_threshold"`

	// 随机源: seed=0 时使用当前时间
	Seed   uint64 `yaml:"seed"`
	Stream int64  `yaml:"stream"`
}

// ClassifierConfig 分类器配置
type ClassifierConfig struct {
	ClassicECNMemory bool    `yaml:"classic_ecn_memory"`
	SliceSeconds     int     `yaml:"slice_seconds"`
	Slices           int     `yaml:"slices"`
	ExpectedFlows    uint    `yaml:"expected_flows"`
	FalsePositive    float64 `yaml:"false_positive"`
}

// ForwarderConfig UDP 转发配置
type ForwarderConfig struct {
	Listen         string  `yaml:"listen"`
	Upstream       string  `yaml:"upstream"`
	RateMbps       float64 `yaml:"rate_mbps"` // 0 表示不限速
	MTU            int     `yaml:"mtu"`
	BurstPackets   int     `yaml:"burst_packets"`
	ReadBufferSize int     `yaml:"read_buffer_size"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	HealthPath      string `yaml:"health_path"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	StatsWSPath     string `yaml:"stats_ws_path"`
	StatsIntervalMs int    `yaml:"stats_interval_ms"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.syncRelatedConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		AQM: AQMConfig{
			Mode:                   "packets",
			QueueLimit:             aqm.DefaultQueueLimit,
			CouplingFactorExponent: aqm.DefaultCouplingFactorExponent,
			ClassicScalingExponent: aqm.DefaultClassicScalingExponent,
			EMADecayExponent:       aqm.DefaultEMADecayExponent,
			Curviness:              aqm.DefaultCurviness,
			L4SByteThreshold:       aqm.DefaultL4SByteThreshold,
		},

		Classifier: ClassifierConfig{
			ClassicECNMemory: true,
			SliceSeconds:     10,
			Slices:           6,
			ExpectedFlows:    classifier.DefaultExpectedFlows,
			FalsePositive:    classifier.DefaultFalsePositive,
		},

		Forwarder: ForwarderConfig{
			Listen:         ":6000",
			Upstream:       "127.0.0.1:6001",
			RateMbps:       10,
			MTU:            1500,
			BurstPackets:   2,
			ReadBufferSize: 4 * 1024 * 1024,
		},

		Metrics: MetricsConfig{
			Enabled:         true,
			Listen:          ":9100",
			Path:            "/metrics",
			HealthPath:      "/health",
			EnablePprof:     false,
			StatsWSPath:     "/stats/ws",
			StatsIntervalMs: 1000,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if err := c.validateAQMConfig(); err != nil {
		return err
	}
	if err := c.validateClassifierConfig(); err != nil {
		return err
	}
	if err := c.validateForwarderConfig(); err != nil {
		return err
	}

	// 端口冲突检测
	listenPort, err := parsePort(c.Forwarder.Listen)
	if err != nil {
		return fmt.Errorf("forwarder.listen 端口格式错误: %w", err)
	}
	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if metricsPort == listenPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 forwarder.listen 冲突", metricsPort)
		}
		if err := c.validateMetricsConfig(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateAQMConfig() error {
	p, err := c.AQMParams()
	if err != nil {
		return fmt.Errorf("aqm: %w", err)
	}
	if p.Mode == aqm.ModeBytes && c.AQM.QueueLimit < uint32(c.Forwarder.MTU) {
		return fmt.Errorf("aqm.queue_limit (%d) 在 bytes 模式下不能小于 forwarder.mtu (%d)",
			c.AQM.QueueLimit, c.Forwarder.MTU)
	}
	return nil
}

func (c *Config) validateClassifierConfig() error {
	if !c.Classifier.ClassicECNMemory {
		return nil
	}
	if c.Classifier.SliceSeconds < 1 || c.Classifier.SliceSeconds > 3600 {
		return fmt.Errorf("classifier.slice_seconds 需在 1-3600 之间")
	}
	if c.Classifier.Slices < 1 || c.Classifier.Slices > 64 {
		return fmt.Errorf("classifier.slices 需在 1-64 之间")
	}
	if c.Classifier.FalsePositive <= 0 || c.Classifier.FalsePositive >= 1 {
		return fmt.Errorf("classifier.false_positive 需在 (0, 1) 之间")
	}
	return nil
}

func (c *Config) validateForwarderConfig() error {
	if c.Forwarder.Upstream == "" {
		return fmt.Errorf("forwarder.upstream 不能为空")
	}
	if _, _, err := net.SplitHostPort(c.Forwarder.Upstream); err != nil {
		return fmt.Errorf("forwarder.upstream 地址格式错误: %w", err)
	}
	if c.Forwarder.RateMbps < 0 {
		return fmt.Errorf("forwarder.rate_mbps 不能为负数")
	}
	if c.Forwarder.MTU < 576 || c.Forwarder.MTU > 65535 {
		return fmt.Errorf("forwarder.mtu 需在 576-65535 之间")
	}
	if c.Forwarder.BurstPackets < 1 || c.Forwarder.BurstPackets > 1000 {
		return fmt.Errorf("forwarder.burst_packets 需在 1-1000 之间")
	}
	return nil
}

func (c *Config) validateMetricsConfig() error {
	paths := map[string]string{
		"metrics.path":          c.Metrics.Path,
		"metrics.health_path":   c.Metrics.HealthPath,
		"metrics.stats_ws_path": c.Metrics.StatsWSPath,
	}
	seen := make(map[string]string, len(paths))
	for name, p := range paths {
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s 必须以 / 开头: %s", name, p)
		}
		if other, exists := seen[p]; exists {
			return fmt.Errorf("%s 与 %s 路径冲突: %s", name, other, p)
		}
		seen[p] = name
	}
	if c.Metrics.StatsIntervalMs < 100 {
		return fmt.Errorf("metrics.stats_interval_ms 不能小于 100")
	}
	return nil
}

// syncRelatedConfig 同步关联配置
func (c *Config) syncRelatedConfig() {
	c.AQM.Mode = strings.ToLower(strings.TrimSpace(c.AQM.Mode))
	if c.AQM.Mode == "" {
		c.AQM.Mode = "packets"
	}

	// L4S 阈值未设置时取两个 MTU
	if c.AQM.L4SByteThreshold == 0 && c.Forwarder.MTU > 0 {
		c.AQM.L4SByteThreshold = uint32(2 * c.Forwarder.MTU)
	}

	if c.Forwarder.BurstPackets == 0 {
		c.Forwarder.BurstPackets = 2
	}
	if c.Metrics.StatsIntervalMs == 0 {
		c.Metrics.StatsIntervalMs = 1000
	}
}

// AQMParams 转换为 DualQ 参数并校验
func (c *Config) AQMParams() (aqm.Params, error) {
	mode, err := aqm.ParseMode(c.AQM.Mode)
	if err != nil {
		return aqm.Params{}, err
	}
	p := aqm.Params{
		Mode:                   mode,
		QueueLimit:             c.AQM.QueueLimit,
		CouplingFactorExponent: c.AQM.CouplingFactorExponent,
		ClassicScalingExponent: c.AQM.ClassicScalingExponent,
		EMADecayExponent:       c.AQM.EMADecayExponent,
		Curviness:              c.AQM.Curviness,
		L4SByteThreshold:       c.AQM.L4SByteThreshold,
	}
	if err := p.Validate(); err != nil {
		return aqm.Params{}, err
	}
	return p, nil
}

// ClassifierOptions 转换为分类器配置
func (c *Config) ClassifierOptions() classifier.Config {
	return classifier.Config{
		ClassicECNMemory: c.Classifier.ClassicECNMemory,
		SliceDuration:    time.Duration(c.Classifier.SliceSeconds) * time.Second,
		Slices:           c.Classifier.Slices,
		ExpectedFlows:    c.Classifier.ExpectedFlows,
		FalsePositive:    c.Classifier.FalsePositive,
	}
}

// StatsInterval websocket 推送间隔
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Metrics.StatsIntervalMs) * time.Millisecond
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取转发器监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Forwarder.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# DualQ Forwarder 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error

# DualQ Coupled AQM
aqm:
  mode: "packets"                   # 队列上限计量: packets, bytes
  queue_limit: 1000                 # 两个子队列共享的上限
  coupling_factor_exponent: 1.0     # k0，S_L = S_C + k0
  classic_scaling_exponent: -1.0    # S_C，Classic 丢包概率 = avg / 2^S_C
  ema_decay_exponent: 5.0           # f_C，EWMA 权重 = 2^-f_C
  curviness: 1                      # U，Classic 取 2U 个样本，L4S 取 U 个
  l4s_byte_threshold: 3000          # L4S 队列超过该字节数时直接标记
  seed: 0                           # 随机种子，0 表示按时间生成
  stream: 0                         # 随机流编号，非 0 时覆盖种子

# L4S 分类
classifier:
  classic_ecn_memory: true          # 使用 ECT(0) 的流其 CE 包留在 Classic
  slice_seconds: 10                 # 流记忆时间片
  slices: 6                         # 时间片数量 (记忆窗口 = 60s)
  expected_flows: 10000
  false_positive: 0.001

# UDP 转发
forwarder:
  listen: ":6000"                   # 入口
  upstream: "127.0.0.1:6001"        # 出口
  rate_mbps: 10                     # 瓶颈速率，0 表示不限速
  mtu: 1500
  burst_packets: 2
  read_buffer_size: 4194304

# 监控
metrics:
  enabled: true
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
  stats_ws_path: "/stats/ws"        # websocket 实时统计
  stats_interval_ms: 1000
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
