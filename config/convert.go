package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
//
//	{
//	  "transport": {"listen_addrs": ["/ip4/0.0.0.0/tcp/4001"]},
//	  "discovery": {"provider_ttl": "30m"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从文件加载并校验配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ToJSON 序列化为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.Transport.ListenAddrs = append([]string(nil), c.Transport.ListenAddrs...)
	cloned.Relay.Relays = append([]string(nil), c.Relay.Relays...)
	cloned.Discovery.BootstrapPeers = append([]string(nil), c.Discovery.BootstrapPeers...)
	cloned.Identity.Capabilities = maps.Clone(c.Identity.Capabilities)
	return &cloned
}
