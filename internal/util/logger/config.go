package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format 输出格式
type Format int

const (
	// FormatText 文本格式（默认）
	FormatText Format = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// Default 未单独配置的子系统使用的级别
	Default slog.Level

	// Subsystems 子系统级别覆盖
	Subsystems map[string]slog.Level

	Format    Format
	AddSource bool
}

// LevelFor 返回子系统级别
//
// 支持前缀匹配：配置 "discovery" 同时作用于 "discovery.dht"。
func (c *Config) LevelFor(subsystem string) slog.Level {
	if lvl, ok := c.Subsystems[subsystem]; ok {
		return lvl
	}
	best, bestLen := c.Default, -1
	for name, lvl := range c.Subsystems {
		if strings.HasPrefix(subsystem, name+".") && len(name) > bestLen {
			best, bestLen = lvl, len(name)
		}
	}
	return best
}

var (
	envOnce sync.Once
	envCfg  *Config
)

// ConfigFromEnv 解析 LUMOS_LOG_* 环境变量，结果被缓存
func ConfigFromEnv() *Config {
	envOnce.Do(func() {
		envCfg = ParseConfig(
			os.Getenv("LUMOS_LOG_LEVEL"),
			os.Getenv("LUMOS_LOG_FORMAT"),
			os.Getenv("LUMOS_LOG_ADD_SOURCE"),
		)
	})
	return envCfg
}

// ParseConfig 解析级别、格式、源码位置三个配置串
//
// level 格式: 子系统=级别,子系统=级别,默认级别
func ParseConfig(level, format, addSource string) *Config {
	cfg := &Config{
		Default:    slog.LevelInfo,
		Subsystems: make(map[string]slog.Level),
	}

	for _, part := range strings.Split(level, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, lvlName, scoped := strings.Cut(part, "=")
		if !scoped {
			if lvl, ok := parseLevel(name); ok {
				cfg.Default = lvl
			}
			continue
		}
		if lvl, ok := parseLevel(lvlName); ok {
			cfg.Subsystems[strings.TrimSpace(name)] = lvl
		}
	}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg.Format = FormatJSON
	}
	switch strings.ToLower(strings.TrimSpace(addSource)) {
	case "1", "true", "yes":
		cfg.AddSource = true
	}
	return cfg
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// resetEnvConfig 仅用于测试
func resetEnvConfig() {
	envOnce = sync.Once{}
	envCfg = nil
}
