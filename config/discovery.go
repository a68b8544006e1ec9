package config

import (
	"errors"
	"time"
)

// DiscoveryConfig 节点发现配置
//
// DHT 参数取 Kademlia 的常用值：K=20、alpha=3、提供者记录 TTL 30 分钟。
type DiscoveryConfig struct {
	// BootstrapPeers 种子节点地址，必须带 /p2p/<id>
	BootstrapPeers []string `json:"bootstrap_peers,omitempty"`

	// BucketSize 每个 k-bucket 的容量，也是复制因子
	BucketSize int `json:"bucket_size"`

	// Alpha 迭代查找的并发度
	Alpha int `json:"alpha"`

	// MaxLookupHops 迭代查找的最大轮数
	MaxLookupHops int `json:"max_lookup_hops"`

	// RequestTimeout 单个 DHT 请求的超时
	RequestTimeout Duration `json:"request_timeout"`

	// LookupTimeout 一次完整查找的超时
	LookupTimeout Duration `json:"lookup_timeout"`

	// ProviderTTL 提供者记录有效期
	ProviderTTL Duration `json:"provider_ttl"`

	// ProviderCacheTTL 远端提供者查询结果的本地缓存时间
	ProviderCacheTTL Duration `json:"provider_cache_ttl"`

	// RefreshInterval 路由表刷新间隔
	RefreshInterval Duration `json:"refresh_interval"`

	// RequestsPerSecond 单个发送方每秒可发起的 DHT 请求数
	RequestsPerSecond float64 `json:"requests_per_second"`

	// EnableMDNS 启用局域网发现
	EnableMDNS bool `json:"enable_mdns"`

	// MDNSService mDNS 服务名
	MDNSService string `json:"mdns_service"`

	// MDNSInterval mDNS 查询间隔
	MDNSInterval Duration `json:"mdns_interval"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		BucketSize:        20,
		Alpha:             3,
		MaxLookupHops:     10,
		RequestTimeout:    Duration(5 * time.Second),
		LookupTimeout:     Duration(30 * time.Second),
		ProviderTTL:       Duration(30 * time.Minute),
		ProviderCacheTTL:  Duration(time.Minute),
		RefreshInterval:   Duration(10 * time.Minute),
		RequestsPerSecond: 50,
		EnableMDNS:        false,
		MDNSService:       "_lumos._tcp",
		MDNSInterval:      Duration(10 * time.Second),
	}
}

// Validate 验证发现配置
func (c DiscoveryConfig) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("bucket_size must be positive")
	}
	if c.Alpha <= 0 {
		return errors.New("alpha must be positive")
	}
	if c.MaxLookupHops <= 0 {
		return errors.New("max_lookup_hops must be positive")
	}
	if c.RequestTimeout <= 0 || c.LookupTimeout <= 0 {
		return errors.New("request and lookup timeouts must be positive")
	}
	if c.ProviderTTL < Duration(time.Second) {
		return errors.New("provider_ttl must be at least 1s")
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if c.EnableMDNS && c.MDNSService == "" {
		return errors.New("mdns_service cannot be empty")
	}
	return nil
}
