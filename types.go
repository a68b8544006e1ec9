package lumosp2p

import (
	"github.com/louloulin/lumos.ai-sub002/internal/memory"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
//
// 节点只能启动一次；关闭后需要重新 New。
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中（fx 启动、监听、引导）
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 关闭中
	StateStopping

	// StateClosed 已关闭
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// PeerID 节点标识
	PeerID = types.PeerID

	// CID 内容标识
	CID = types.CID

	// Multiaddr 自描述网络地址
	Multiaddr = types.Multiaddr

	// PeerInfo 节点信息
	PeerInfo = types.PeerInfo

	// AddrInfo 节点 ID 与地址
	AddrInfo = types.AddrInfo

	// Message 发布订阅消息
	Message = pubsub.Message

	// Subscription 主题订阅
	Subscription = pubsub.Subscription

	// MemoryItem 记忆条目
	MemoryItem = memory.MemoryItem

	// MemoryFilter 记忆查询条件
	MemoryFilter = memory.Filter

	// MemoryQueryResult 记忆查询结果
	MemoryQueryResult = memory.QueryResult

	// Scope 查询范围
	Scope = memory.Scope
)

// 查询范围
const (
	ScopeLocal       = memory.ScopeLocal
	ScopeDistributed = memory.ScopeDistributed
)

// ParsePeerID 解析节点 ID 字符串
func ParsePeerID(s string) (PeerID, error) { return types.ParsePeerID(s) }

// ParseCID 解析 CID，接受 base32 与 base16 表示
func ParseCID(s string) (CID, error) { return types.ParseCID(s) }
