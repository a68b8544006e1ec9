package config

import (
	"errors"
	"time"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// ListenAddrs 监听地址
	// 例如 "/ip4/0.0.0.0/tcp/4001"、"/ip4/0.0.0.0/tcp/4002/ws"
	ListenAddrs []string `json:"listen_addrs"`

	// EnableTCP 启用 TCP 传输
	EnableTCP bool `json:"enable_tcp"`

	// EnableWebSocket 启用 WebSocket 传输（/ws 地址）
	EnableWebSocket bool `json:"enable_websocket"`

	// DialTimeout 单次拨号超时（含连接升级）
	DialTimeout Duration `json:"dial_timeout"`

	// DialRetries Unreachable/Timeout 失败后的重拨次数
	DialRetries int `json:"dial_retries"`

	// DialBackoff 重拨的初始退避，每次翻倍
	DialBackoff Duration `json:"dial_backoff"`

	// HandshakeTimeout 安全握手与多路复用协商超时
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// IdleTimeout 没有活跃流的连接在此时间后关闭
	IdleTimeout Duration `json:"idle_timeout"`

	// MaxStreamHandlers 同时运行的入站流处理器上限
	MaxStreamHandlers int `json:"max_stream_handlers"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddrs:       []string{"/ip4/0.0.0.0/tcp/0"},
		EnableTCP:         true,
		EnableWebSocket:   true,
		DialTimeout:       Duration(5 * time.Second),
		DialRetries:       2,
		DialBackoff:       Duration(200 * time.Millisecond),
		HandshakeTimeout:  Duration(10 * time.Second),
		IdleTimeout:       Duration(5 * time.Minute),
		MaxStreamHandlers: 256,
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !c.EnableTCP && !c.EnableWebSocket {
		return errors.New("at least one transport must be enabled")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if c.DialRetries < 0 {
		return errors.New("dial_retries must not be negative")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.MaxStreamHandlers <= 0 {
		return errors.New("max_stream_handlers must be positive")
	}
	return nil
}
