package engine

import (
	"errors"
	"fmt"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var (
	// ErrNotFound 键不存在，同时匹配 types.ErrNotFound，
	// 上层可以把存储层的缺失直接作为"内容不存在"返回
	ErrNotFound = fmt.Errorf("storage: %w", types.ErrNotFound)

	ErrEmptyKey      = errors.New("storage: empty key")
	ErrClosed        = errors.New("storage: engine closed")
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrCorrupted 记录无法解码，通常是不同版本写入的数据
	ErrCorrupted = errors.New("storage: record corrupted")
)

// IsNotFound 是否为键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
