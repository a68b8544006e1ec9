package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("discovery=debug, swarm=warn,error", "json", "true")

	assert.Equal(t, slog.LevelError, cfg.Default)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("discovery"))
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("discovery.dht"), "前缀匹配")
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("swarm"))
	assert.Equal(t, slog.LevelError, cfg.LevelFor("pubsub"))
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}

func TestParseConfig_IgnoresUnknownLevels(t *testing.T) {
	cfg := ParseConfig("dht=loud,verbose", "", "")
	assert.Equal(t, slog.LevelInfo, cfg.Default)
	assert.Empty(t, cfg.Subsystems)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestLogger_OutputAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	log := Logger("logger.test")
	assert.Same(t, log, Logger("logger.test"))

	SetLevel("logger.test", slog.LevelInfo)
	log.Debug("不应出现")
	log.Info("节点已启动", "peers", 3)

	out := buf.String()
	require.Contains(t, out, "节点已启动")
	assert.Contains(t, out, "peers=3")
	assert.Contains(t, out, "subsystem=logger.test")
	assert.NotContains(t, out, "不应出现")

	buf.Reset()
	SetLevel("logger.test", slog.LevelDebug)
	log.Debug("调试输出")
	assert.Contains(t, buf.String(), "level=debug")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LUMOS_LOG_LEVEL", "pubsub=debug,warn")
	resetEnvConfig()
	t.Cleanup(resetEnvConfig)

	cfg := ConfigFromEnv()
	assert.Equal(t, slog.LevelWarn, cfg.Default)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("pubsub"))
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
