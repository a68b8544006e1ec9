package lumosp2p

import (
	"errors"

	"github.com/louloulin/lumos.ai-sub002/internal/memory"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ErrInvalidOption 选项参数无效
	ErrInvalidOption = errors.New("invalid option")

	// ────────────────────────────────────────────────────────────────────────
	// 网络与内容错误，与内部组件返回的错误相同，可直接 errors.Is 判断
	// ────────────────────────────────────────────────────────────────────────

	// ErrUnreachable 拨号失败，可重试
	ErrUnreachable = types.ErrUnreachable

	// ErrHandshakeFailed 协议或身份不匹配，不应以相同参数重试
	ErrHandshakeFailed = types.ErrHandshakeFailed

	// ErrTimeout 操作超时，对端可能仍然存活
	ErrTimeout = types.ErrTimeout

	// ErrNotFound 内容或提供者不存在，属于正常结果
	ErrNotFound = types.ErrNotFound

	// ErrInconsistent 拉取的内容与 CID 不符
	ErrInconsistent = types.ErrInconsistent

	// ErrStaleVersion 并发保存同一记忆时，落后的一方返回此错误
	ErrStaleVersion = memory.ErrStaleVersion
)
