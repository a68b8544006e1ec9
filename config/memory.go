package config

import (
	"errors"
	"time"
)

// 记忆后端
const (
	// MemoryBackendLocal 仅本地存储与查询
	MemoryBackendLocal = "local"
	// MemoryBackendPeer 本地存储 + DHT 公告 + 远端拉取与分布式查询
	MemoryBackendPeer = "peer"
)

// MemoryConfig 分布式记忆协调器配置
type MemoryConfig struct {
	// Backend 后端类型: "local" 或 "peer"
	Backend string `json:"backend"`

	// FetchTimeout 向单个提供者拉取内容的超时
	FetchTimeout Duration `json:"fetch_timeout"`

	// QueryWindow 分布式查询收集回复的时间窗口
	QueryWindow Duration `json:"query_window"`

	// ProvideRetries 提供者公告失败后的重试次数
	ProvideRetries int `json:"provide_retries"`

	// ProvideBackoff 公告重试的初始退避
	ProvideBackoff Duration `json:"provide_backoff"`

	// ReprovideInterval 重新公告间隔，0 表示 ProviderTTL/2
	ReprovideInterval Duration `json:"reprovide_interval,omitempty"`

	// MaxProviders 检索时最多尝试的提供者数
	MaxProviders int `json:"max_providers"`

	// MaxQueryResults 单次查询返回的最大条目数
	MaxQueryResults int `json:"max_query_results"`
}

// DefaultMemoryConfig 返回默认记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:         MemoryBackendPeer,
		FetchTimeout:    Duration(5 * time.Second),
		QueryWindow:     Duration(2 * time.Second),
		ProvideRetries:  5,
		ProvideBackoff:  Duration(time.Second),
		MaxProviders:    8,
		MaxQueryResults: 100,
	}
}

// Validate 验证记忆配置
func (c MemoryConfig) Validate() error {
	switch c.Backend {
	case MemoryBackendLocal, MemoryBackendPeer:
	default:
		return errors.New("backend must be \"local\" or \"peer\"")
	}
	if c.FetchTimeout <= 0 || c.QueryWindow <= 0 {
		return errors.New("fetch_timeout and query_window must be positive")
	}
	if c.ProvideRetries < 0 {
		return errors.New("provide_retries must not be negative")
	}
	if c.MaxProviders <= 0 || c.MaxQueryResults <= 0 {
		return errors.New("max_providers and max_query_results must be positive")
	}
	return nil
}
