package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LUMOS_BOOTSTRAP_PEERS", " /ip4/1.2.3.4/tcp/4001/p2p/a , ,/ip4/5.6.7.8/tcp/4001/p2p/b")
	t.Setenv("LUMOS_DATA_DIR", "/var/lib/lumos")
	t.Setenv("LUMOS_ENABLE_MDNS", "yes")
	t.Setenv("LUMOS_MEMORY_BACKEND", "local")

	cfg := config.NewConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, []string{"/ip4/1.2.3.4/tcp/4001/p2p/a", "/ip4/5.6.7.8/tcp/4001/p2p/b"}, cfg.Discovery.BootstrapPeers)
	assert.Equal(t, "/var/lib/lumos", cfg.Storage.DataDir)
	assert.True(t, cfg.Discovery.EnableMDNS)
	assert.Equal(t, config.MemoryBackendLocal, cfg.Memory.Backend)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "1", "YES", " on "} {
		assert.True(t, parseBool(s), s)
	}
	for _, s := range []string{"false", "0", "", "maybe"} {
		assert.False(t, parseBool(s), s)
	}
}

// 命令行参数优先于环境变量
func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LUMOS_DATA_DIR", "/from/env")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--data-dir", "/from/flag", "--in-memory"}))
	t.Cleanup(func() {
		dataDir, inMemory = "", false
	})

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.InMemory)
}
