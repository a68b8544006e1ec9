package config

import (
	"errors"
	"time"
)

// PubSubConfig 发布订阅配置
type PubSubConfig struct {
	// SeenTTL 消息去重缓存的保留时间
	SeenTTL Duration `json:"seen_ttl"`

	// SeenCacheSize 去重缓存容量
	SeenCacheSize int `json:"seen_cache_size"`

	// InterestRefresh 兴趣公告的刷新周期，退订在下一周期传播
	InterestRefresh Duration `json:"interest_refresh"`

	// HoldBack 接收端对同一发布者乱序消息的等待窗口
	HoldBack Duration `json:"hold_back"`

	// PeerQueueSize 每个对端的出站队列长度
	PeerQueueSize int `json:"peer_queue_size"`

	// SubscriptionBuffer 本地订阅通道缓冲
	SubscriptionBuffer int `json:"subscription_buffer"`

	// MaxMessageSize 单条消息上限（字节）
	MaxMessageSize int `json:"max_message_size"`
}

// DefaultPubSubConfig 返回默认发布订阅配置
func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		SeenTTL:            Duration(2 * time.Minute),
		SeenCacheSize:      8192,
		InterestRefresh:    Duration(30 * time.Second),
		HoldBack:           Duration(500 * time.Millisecond),
		PeerQueueSize:      256,
		SubscriptionBuffer: 64,
		MaxMessageSize:     1 << 20,
	}
}

// Validate 验证发布订阅配置
func (c PubSubConfig) Validate() error {
	if c.SeenTTL <= 0 || c.SeenCacheSize <= 0 {
		return errors.New("seen cache must have positive ttl and size")
	}
	if c.InterestRefresh <= 0 {
		return errors.New("interest_refresh must be positive")
	}
	if c.HoldBack < 0 {
		return errors.New("hold_back must not be negative")
	}
	if c.PeerQueueSize <= 0 || c.SubscriptionBuffer <= 0 {
		return errors.New("queue sizes must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	return nil
}
