package config

import (
	"errors"
	"time"
)

// NATConfig NAT 端口映射配置
type NATConfig struct {
	// EnablePortMap 通过 NAT-PMP 映射 TCP 监听端口
	EnablePortMap bool `json:"enable_port_map"`

	// Gateway 网关地址，为空时自动探测默认网关
	Gateway string `json:"gateway,omitempty"`

	// MappingLifetime 映射租期，到期前续租
	MappingLifetime Duration `json:"mapping_lifetime"`
}

// DefaultNATConfig 返回默认 NAT 配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		EnablePortMap:   false,
		MappingLifetime: Duration(time.Hour),
	}
}

// Validate 验证 NAT 配置
func (c NATConfig) Validate() error {
	if c.EnablePortMap && c.MappingLifetime < Duration(time.Minute) {
		return errors.New("mapping_lifetime must be at least 1m")
	}
	return nil
}
