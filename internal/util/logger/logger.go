// Package logger 提供按子系统划分的结构化日志
//
// 基于 log/slog，每个子系统持有独立的级别，可通过环境变量配置：
//
//	LUMOS_LOG_LEVEL=discovery.dht=debug,swarm=warn,info
//	LUMOS_LOG_FORMAT=json
//	LUMOS_LOG_ADD_SOURCE=true
//
// 使用示例:
//
//	var log = logger.Logger("discovery.dht")
//
//	log.Info("路由表已更新", "peers", n)
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	// loggers 子系统 -> *slog.Logger
	loggers sync.Map

	// handlers 子系统 -> *subsystemHandler，用于运行时调整级别
	handlers sync.Map

	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

// Logger 返回指定子系统的 Logger
//
// 同一子系统多次调用返回同一实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	h := newSubsystemHandler(subsystem, cfg.LevelFor(subsystem), cfg)

	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// SetLevel 动态调整子系统级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).setLevel(level)
	}
}

// SetAllLevels 调整所有已创建子系统的级别
func SetAllLevels(level slog.Level) {
	handlers.Range(func(_, v any) bool {
		v.(*subsystemHandler).setLevel(level)
		return true
	})
}

// SetOutput 替换日志输出目标，对已创建的 Logger 同样生效
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// Discard 返回丢弃所有输出的 Logger
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// sharedWriter 每次写入时读取当前 output
type sharedWriter struct{}

func (sharedWriter) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}
