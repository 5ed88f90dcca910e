// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 监控 HTTP 服务 - /metrics、健康探针、pprof 与 websocket 队列快照推送
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"

	streamWriteTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// statsStream websocket 推送设置
type statsStream struct {
	path     string
	interval time.Duration
	provider QueueStatsProvider
}

// MetricsServer 监控服务
type MetricsServer struct {
	listen      string
	metricsPath string
	healthPath  string
	enablePprof bool

	registry *prometheus.Registry
	server   *http.Server
	logger   zerolog.Logger

	upgrader websocket.Upgrader
	stream   statsStream
	clients  atomic.Int64

	alive       atomic.Bool
	healthCheck func() HealthStatus

	mu sync.RWMutex
}

// NewMetricsServer 创建监控服务，使用独立 registry
func NewMetricsServer(listen, metricsPath, healthPath string, enablePprof bool, logger zerolog.Logger) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &MetricsServer{
		listen:      listen,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		enablePprof: enablePprof,
		registry:    registry,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.alive.Store(true)
	return s
}

// RegisterCollector 注册收集器
func (s *MetricsServer) RegisterCollector(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// MustRegisterCollector 注册收集器，重复注册时 panic
func (s *MetricsServer) MustRegisterCollector(c prometheus.Collector) {
	s.registry.MustRegister(c)
}

// GetRegistry 返回内部 registry，转发器指标注册在这里
func (s *MetricsServer) GetRegistry() *prometheus.Registry {
	return s.registry
}

// SetHealthCheck 设置 /health 与就绪探针使用的检查函数
func (s *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	s.mu.Lock()
	s.healthCheck = fn
	s.mu.Unlock()
}

// SetStatsStream 启用 websocket 快照推送，需在 Handler/Start 之前调用
func (s *MetricsServer) SetStatsStream(path string, interval time.Duration, provider QueueStatsProvider) {
	if interval <= 0 {
		interval = time.Second
	}
	s.mu.Lock()
	s.stream = statsStream{path: path, interval: interval, provider: provider}
	s.mu.Unlock()
}

// SetHealthy 设置存活状态
func (s *MetricsServer) SetHealthy(healthy bool) {
	s.alive.Store(healthy)
}

// StreamClients 当前 websocket 订阅数
func (s *MetricsServer) StreamClients() int64 {
	return s.clients.Load()
}

// Handler 构建路由
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	mux.HandleFunc(s.healthPath, s.serveHealth)
	mux.HandleFunc(s.healthPath+"/live", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, s.alive.Load(), "OK", "NOT OK")
	})
	mux.HandleFunc(s.healthPath+"/ready", func(w http.ResponseWriter, _ *http.Request) {
		status, configured := s.currentHealth()
		ready := configured && (status.Status == statusHealthy || status.Status == statusDegraded)
		writeProbe(w, ready, "READY", "NOT READY")
	})

	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()
	if stream.path != "" && stream.provider != nil {
		mux.HandleFunc(stream.path, func(w http.ResponseWriter, r *http.Request) {
			s.serveStream(w, r, stream)
		})
	}

	if s.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

// Start 绑定端口并在后台服务；端口不可用时直接返回错误
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics 服务异常退出")
		}
	}()

	s.logger.Info().Str("listen", ln.Addr().String()).Msg("metrics 服务已启动")
	return nil
}

// Stop 优雅关闭
func (s *MetricsServer) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("metrics 服务关闭超时")
	}
}

// currentHealth 调用检查函数；未设置时返回默认健康状态
func (s *MetricsServer) currentHealth() (HealthStatus, bool) {
	s.mu.RLock()
	fn := s.healthCheck
	s.mu.RUnlock()

	if fn == nil {
		return HealthStatus{Status: statusHealthy, Timestamp: time.Now()}, false
	}
	return fn(), true
}

func (s *MetricsServer) serveHealth(w http.ResponseWriter, _ *http.Request) {
	status, _ := s.currentHealth()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != statusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug().Err(err).Msg("健康状态写出失败")
	}
}

func writeProbe(w http.ResponseWriter, ok bool, okText, failText string) {
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(failText))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(okText))
}

// serveStream 立即推送一次快照，之后按间隔推送，直到对端关闭
func (s *MetricsServer) serveStream(w http.ResponseWriter, r *http.Request, stream statsStream) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket 升级失败")
		return
	}
	defer conn.Close()

	s.clients.Add(1)
	defer s.clients.Add(-1)

	// 不处理客户端消息，只用读错误判断断开
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(stream.interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(stream.provider.Snapshot()); err != nil {
			s.logger.Debug().Err(err).Msg("快照推送中断")
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
