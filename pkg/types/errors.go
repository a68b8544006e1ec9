package types

import "errors"

// ============================================================================
//                              错误分类
// ============================================================================

// 网络操作错误
//
// 各组件在自身重试预算耗尽后才向调用方返回这些错误。
var (
	// ErrUnreachable 连接失败，可按指数退避重试
	ErrUnreachable = errors.New("peer unreachable")

	// ErrHandshakeFailed 协议或身份不匹配，相同参数不再重试
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrTimeout 操作超过截止时间，对端可能仍然存活
	ErrTimeout = errors.New("operation timed out")
)

// 内容错误
var (
	// ErrNotFound 内容或提供者不存在，属于正常结果
	ErrNotFound = errors.New("not found")

	// ErrInconsistent 内容哈希与声明的 CID 不一致
	ErrInconsistent = errors.New("content does not match cid")
)

// 解析错误
var (
	// ErrEmptyPeerID 空节点 ID
	ErrEmptyPeerID = errors.New("empty peer id")

	// ErrInvalidPeerID 无效节点 ID
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrInvalidMultiaddr 无效地址
	ErrInvalidMultiaddr = errors.New("invalid multiaddr")

	// ErrInvalidCID 无效 CID
	ErrInvalidCID = errors.New("invalid cid")
)
