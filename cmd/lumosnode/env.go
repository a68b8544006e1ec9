package main

import (
	"os"
	"strings"

	"github.com/louloulin/lumos.ai-sub002/config"
)

// 环境变量名
const (
	envPrefix         = "LUMOS_"
	envListenAddrs    = "LISTEN_ADDRS"
	envBootstrapPeers = "BOOTSTRAP_PEERS"
	envDataDir        = "DATA_DIR"
	envKeyFile        = "IDENTITY_KEY_FILE"
	envEnableRelay    = "ENABLE_RELAY_SERVICE"
	envEnableNAT      = "ENABLE_NAT"
	envEnableMDNS     = "ENABLE_MDNS"
	envMemoryBackend  = "MEMORY_BACKEND"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 列表类变量用逗号分隔。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + envListenAddrs); v != "" {
		cfg.Transport.ListenAddrs = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + envBootstrapPeers); v != "" {
		cfg.Discovery.BootstrapPeers = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envPrefix + envKeyFile); v != "" {
		cfg.Identity.KeyFile = v
	}
	if v := os.Getenv(envPrefix + envEnableRelay); v != "" {
		cfg.Relay.EnableServer = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envEnableNAT); v != "" {
		cfg.NAT.EnablePortMap = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envEnableMDNS); v != "" {
		cfg.Discovery.EnableMDNS = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envMemoryBackend); v != "" {
		cfg.Memory.Backend = v
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
