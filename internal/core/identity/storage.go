package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

// ============================================================================
//                              私钥持久化
// ============================================================================

// SavePEM 保存私钥到 PEM 文件
//
// 文件权限为 0600；写入经过临时文件 + rename，目标文件不会出现半写状态。
func (i *Identity) SavePEM(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("创建密钥目录失败: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeEd25519Private,
		Bytes: i.priv,
	})
	return atomicWriteFile(path, data, 0o600)
}

// LoadPEM 从 PEM 文件加载身份
func LoadPEM(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private {
		return nil, ErrInvalidPEM
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	return New(ed25519.PrivateKey(block.Bytes))
}

// LoadOrGenerate 加载密钥文件，不存在且允许时生成并保存
func LoadOrGenerate(path string, autoGenerate bool) (*Identity, error) {
	if path == "" {
		if !autoGenerate {
			return nil, ErrKeyNotFound
		}
		return Generate()
	}

	id, err := LoadPEM(path)
	if err == nil {
		return id, nil
	}
	if err != ErrKeyNotFound || !autoGenerate {
		return nil, fmt.Errorf("加载身份失败: %w", err)
	}

	id, err = Generate()
	if err != nil {
		return nil, fmt.Errorf("创建身份失败: %w", err)
	}
	if err := id.SavePEM(path); err != nil {
		return nil, fmt.Errorf("保存身份失败: %w", err)
	}
	return id, nil
}

// atomicWriteFile 原子写文件
//
//  1. 写入同目录临时文件
//  2. 同步到磁盘
//  3. rename 到目标路径
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("原子 rename 失败: %w", err)
	}
	success = true
	return nil
}
