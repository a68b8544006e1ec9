// Package config 提供 lumos 节点的统一配置
//
// 本包采用分文件的子配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，带 Default...Config() 与 Validate()
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Transport.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/4001"}
//	cfg.Discovery.BootstrapPeers = []string{"/ip4/1.2.3.4/tcp/4001/p2p/Qm..."}
//
//	cfg, err := config.LoadFile("node.json")
package config

import "fmt"

// Config 是 lumos 节点的完整配置结构
//
// 配置按照子系统组织：
//   - Identity: 节点密钥
//   - Transport: 监听地址、拨号与连接升级
//   - Relay: 中继回退与中继服务
//   - NAT: 端口映射
//   - Discovery: DHT 与 mDNS
//   - PubSub: 发布订阅
//   - Memory: 分布式记忆协调器
//   - Storage: 持久化
//   - Peerstore: 节点表
//   - Metrics: 指标
type Config struct {
	Identity  IdentityConfig  `json:"identity"`
	Transport TransportConfig `json:"transport"`
	Relay     RelayConfig     `json:"relay"`
	NAT       NATConfig       `json:"nat"`
	Discovery DiscoveryConfig `json:"discovery"`
	PubSub    PubSubConfig    `json:"pubsub"`
	Memory    MemoryConfig    `json:"memory"`
	Storage   StorageConfig   `json:"storage"`
	Peerstore PeerstoreConfig `json:"peerstore"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		Relay:     DefaultRelayConfig(),
		NAT:       DefaultNATConfig(),
		Discovery: DefaultDiscoveryConfig(),
		PubSub:    DefaultPubSubConfig(),
		Memory:    DefaultMemoryConfig(),
		Storage:   DefaultStorageConfig(),
		Peerstore: DefaultPeerstoreConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// validator 子配置校验接口
type validator interface {
	Validate() error
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validator
	}{
		{"identity", c.Identity},
		{"transport", c.Transport},
		{"relay", c.Relay},
		{"nat", c.NAT},
		{"discovery", c.Discovery},
		{"pubsub", c.PubSub},
		{"memory", c.Memory},
		{"storage", c.Storage},
		{"peerstore", c.Peerstore},
		{"metrics", c.Metrics},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ReprovideInterval 返回提供者记录的刷新间隔
//
// 未单独配置时取 ProviderTTL 的一半。
func (c *Config) ReprovideInterval() Duration {
	if c.Memory.ReprovideInterval > 0 {
		return c.Memory.ReprovideInterval
	}
	return c.Discovery.ProviderTTL / 2
}
