package pubsub

import "errors"

var (
	// ErrClosed 路由器已关闭
	ErrClosed = errors.New("pubsub: router closed")

	// ErrEmptyTopic 主题为空
	ErrEmptyTopic = errors.New("pubsub: empty topic")

	// ErrMessageTooLarge 消息超过上限
	ErrMessageTooLarge = errors.New("pubsub: message too large")

	// ErrInvalidRPC RPC 帧无法解析
	ErrInvalidRPC = errors.New("pubsub: invalid rpc")
)
