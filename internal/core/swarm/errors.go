package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var (
	// ErrSwarmClosed swarm 已关闭
	ErrSwarmClosed = errors.New("swarm closed")

	// ErrNoAddresses 没有可拨号的地址
	ErrNoAddresses = errors.New("no addresses")

	// ErrDialToSelf 拨号到自身
	ErrDialToSelf = errors.New("dial to self attempted")

	// ErrNoConnection 没有到对端的连接
	ErrNoConnection = errors.New("no connection to peer")

	// ErrNoHandler 对端不支持任何请求的协议
	ErrNoHandler = errors.New("protocols not supported")
)

// DialErrorKind 拨号失败类型
type DialErrorKind int

const (
	// DialUnreachable 地址不可达，可重试
	DialUnreachable DialErrorKind = iota
	// DialHandshakeFailed 安全握手或协商失败，不重试
	DialHandshakeFailed
	// DialTimeout 超时，可重试
	DialTimeout
)

func (k DialErrorKind) String() string {
	switch k {
	case DialHandshakeFailed:
		return "handshake_failed"
	case DialTimeout:
		return "timeout"
	default:
		return "unreachable"
	}
}

// DialError 拨号失败
type DialError struct {
	Peer     types.PeerID
	Kind     DialErrorKind
	Attempts int
	Err      error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s failed (%s after %d attempts): %v", e.Peer.ShortString(), e.Kind, e.Attempts, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Is 把失败类型映射到公共错误
func (e *DialError) Is(target error) bool {
	switch target {
	case types.ErrUnreachable:
		return e.Kind == DialUnreachable
	case types.ErrHandshakeFailed:
		return e.Kind == DialHandshakeFailed
	case types.ErrTimeout:
		return e.Kind == DialTimeout
	}
	return false
}

// kindOf 判断单次拨号错误的类型
func kindOf(err error) DialErrorKind {
	switch {
	case errors.Is(err, types.ErrHandshakeFailed):
		return DialHandshakeFailed
	case errors.Is(err, types.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return DialTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return DialTimeout
	}
	return DialUnreachable
}
