package config

import (
	"errors"
	"time"
)

// PeerstoreConfig 节点表配置
type PeerstoreConfig struct {
	// MaxDialFailures 单个地址连续拨号失败的上限
	// 所有地址都超过上限后移除该节点
	MaxDialFailures int `json:"max_dial_failures"`

	// SweepInterval 清理周期
	SweepInterval Duration `json:"sweep_interval"`

	// MaxAge 未连接节点在最后一次见到后保留的时长
	MaxAge Duration `json:"max_age"`
}

// DefaultPeerstoreConfig 返回默认节点表配置
func DefaultPeerstoreConfig() PeerstoreConfig {
	return PeerstoreConfig{
		MaxDialFailures: 3,
		SweepInterval:   Duration(5 * time.Minute),
		MaxAge:          Duration(time.Hour),
	}
}

// Validate 验证节点表配置
func (c PeerstoreConfig) Validate() error {
	if c.MaxDialFailures <= 0 {
		return errors.New("max_dial_failures must be positive")
	}
	if c.SweepInterval <= 0 || c.MaxAge <= 0 {
		return errors.New("sweep_interval and max_age must be positive")
	}
	return nil
}
