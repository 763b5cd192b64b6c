package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 根据配置的日志级别创建默认 slog.Logger。
//
// 级别字符串不区分大小写，无法识别时回退到 info。
func NewDefault(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
