package upgrader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var (
	// ErrNilSecurity 未配置安全传输
	ErrNilSecurity = errors.New("upgrader: security transport is nil")

	// ErrNegotiationFailed 协议协商失败
	ErrNegotiationFailed = errors.New("upgrader: protocol negotiation failed")
)

// classify 为升级阶段的错误附加公共错误分类
func classify(stage string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", stage, types.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", stage, types.ErrHandshakeFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
