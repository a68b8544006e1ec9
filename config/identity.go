package config

import "errors"

// IdentityConfig 身份配置
//
// 节点身份固定为 Ed25519 密钥。
type IdentityConfig struct {
	// KeyFile PEM 格式私钥文件路径
	// 为空时在内存中生成临时密钥
	KeyFile string `json:"key_file,omitempty"`

	// AutoGenerate 密钥文件不存在时自动生成并写入
	AutoGenerate bool `json:"auto_generate"`

	// AgentVersion identify 中通告的代理版本，为空使用内置值
	AgentVersion string `json:"agent_version,omitempty"`

	// Capabilities 额外通告的能力，例如 {"agent": "planner"}
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		AutoGenerate: true,
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("key_file is required when auto_generate is disabled")
	}
	return nil
}
