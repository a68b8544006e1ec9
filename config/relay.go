package config

import (
	"errors"
	"time"
)

// RelayConfig 中继配置
//
// 客户端模式: 直连失败时通过已知中继重试一次
// 服务端模式: 为其他节点转发连接
type RelayConfig struct {
	// EnableClient 启用中继回退
	EnableClient bool `json:"enable_client"`

	// EnableServer 为其他节点提供中继服务
	EnableServer bool `json:"enable_server"`

	// Relays 静态中继地址，必须带 /p2p/<id>
	Relays []string `json:"relays,omitempty"`

	// MaxCircuits 服务端同时转发的电路上限
	MaxCircuits int `json:"max_circuits"`

	// CircuitsPerSecond 单个来源节点每秒可建立的电路数
	CircuitsPerSecond float64 `json:"circuits_per_second"`

	// CircuitBurst 单个来源节点的突发上限
	CircuitBurst int `json:"circuit_burst"`

	// CircuitTimeout 单条电路的最长存活时间
	CircuitTimeout Duration `json:"circuit_timeout"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		EnableClient:      true,
		EnableServer:      false,
		MaxCircuits:       128,
		CircuitsPerSecond: 2,
		CircuitBurst:      4,
		CircuitTimeout:    Duration(10 * time.Minute),
	}
}

// Validate 验证中继配置
func (c RelayConfig) Validate() error {
	if c.EnableServer {
		if c.MaxCircuits <= 0 {
			return errors.New("max_circuits must be positive")
		}
		if c.CircuitsPerSecond <= 0 || c.CircuitBurst <= 0 {
			return errors.New("circuit rate limit must be positive")
		}
	}
	return nil
}
