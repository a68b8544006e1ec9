package protocolids

import "github.com/louloulin/lumos.ai-sub002/pkg/types"

// ============================================================================
// 连接升级
// ============================================================================

// Noise 安全通道
const Noise types.ProtocolID = "/noise"

// Yamux 流多路复用
const Yamux types.ProtocolID = "/yamux/1.0.0"

// ============================================================================
// 系统协议（/lumos/...）
// ============================================================================

// Identify 连接建立后交换地址、协议和能力
const Identify types.ProtocolID = "/lumos/id/1.0.0"

// Kad DHT 路由与提供者记录
const Kad types.ProtocolID = "/lumos/kad/1.0.0"

// PubSub 发布订阅
const PubSub types.ProtocolID = "/lumos/pubsub/1.0.0"

// Fetch 按 CID 拉取内容
const Fetch types.ProtocolID = "/lumos/fetch/1.0.0"

// MemoryQuery 分布式记忆查询的直连回复
const MemoryQuery types.ProtocolID = "/lumos/memory/query/1.0.0"

// RelayHop 请求中继节点转发
const RelayHop types.ProtocolID = "/lumos/relay/hop/1.0.0"

// RelayStop 中继节点通知目标有入站电路
const RelayStop types.ProtocolID = "/lumos/relay/stop/1.0.0"

// ============================================================================
// 主题
// ============================================================================

// MemoryQueryTopic 分布式记忆查询请求广播的主题
const MemoryQueryTopic = "lumos/memory/query/v1"

// All 返回所有系统协议
func All() []types.ProtocolID {
	return []types.ProtocolID{Identify, Kad, PubSub, Fetch, MemoryQuery, RelayHop, RelayStop}
}
