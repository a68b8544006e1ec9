package config

import (
	"errors"
	"path/filepath"
	"time"
)

// StorageConfig 存储配置
//
// 所有组件共用一个 BadgerDB 实例，通过 Key 前缀隔离数据。
//
//	${DataDir}/
//	├── lumos.db/      # BadgerDB（内容块、节点表快照）
//	└── memory.db      # SQLite 记忆索引
type StorageConfig struct {
	// DataDir 数据目录
	DataDir string `json:"data_dir"`

	// InMemory 使用内存存储，不写磁盘
	InMemory bool `json:"in_memory"`

	// GCInterval BadgerDB value log GC 间隔
	GCInterval Duration `json:"gc_interval"`
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:    "./data",
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证存储配置
func (c StorageConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}
	return nil
}

// DBPath BadgerDB 路径
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "lumos.db")
}

// IndexPath SQLite 记忆索引路径，内存模式返回 ":memory:"
func (c StorageConfig) IndexPath() string {
	if c.InMemory {
		return ":memory:"
	}
	return filepath.Join(c.DataDir, "memory.db")
}
