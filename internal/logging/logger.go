// =============================================================================
// 文件: internal/logging/logger.go
// 描述: 结构化日志 - 基于 zerolog，按组件打标签
// =============================================================================
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel 解析配置中的日志级别: debug, info, warn, error
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("无效的日志级别: %s", level)
	}
}

// New 创建组件日志，w 为 nil 时输出到 stderr 控制台
func New(component, level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	lvl, err := ParseLevel(level)
	logger := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("component", component).
		Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("使用默认日志级别 info")
	}
	return logger
}

// Component 从已有日志派生子组件
func Component(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().Str("component", component).Logger()
}
