package lumosp2p

import (
	"context"
	"slices"

	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              连接与节点
// ════════════════════════════════════════════════════════════════════════════

// Connect 连接到指定地址并把对端加入路由表
//
// 地址带 /p2p/<id> 时校验对端身份，直连失败后可经中继重试一次；
// 不带时接受任何对端身份。返回对端 ID。
func (n *Node) Connect(ctx context.Context, addr string) (PeerID, error) {
	if err := n.ensureRunning(); err != nil {
		return types.EmptyPeerID, err
	}
	maddr, err := types.ParseMultiaddr(addr)
	if err != nil {
		return types.EmptyPeerID, err
	}
	c, err := n.swarm.Dial(ctx, maddr)
	if err != nil {
		return types.EmptyPeerID, err
	}
	id := c.RemotePeer()
	// 已有连接，AddPeer 只更新路由表
	if err := n.dht.AddPeer(ctx, types.AddrInfo{ID: id}); err != nil {
		return types.EmptyPeerID, err
	}
	log.Debug("已连接节点", "peer", id.ShortString(), "addr", addr)
	return id, nil
}

// Disconnect 关闭到对端的所有连接
func (n *Node) Disconnect(p PeerID) error {
	return n.swarm.ClosePeer(p)
}

// FindPeer 查找节点地址，找不到返回 ErrNotFound
func (n *Node) FindPeer(ctx context.Context, p PeerID) (AddrInfo, error) {
	if err := n.ensureRunning(); err != nil {
		return AddrInfo{}, err
	}
	return n.dht.FindPeer(ctx, p)
}

// GetPeers 当前已连接节点的信息，按 ID 排序
func (n *Node) GetPeers() []PeerInfo {
	ps := n.swarm.Peerstore()
	peers := n.swarm.Peers()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		info, ok := ps.Get(p)
		if !ok {
			info = PeerInfo{ID: p}
		}
		info.Connected = n.swarm.Connectedness(p) == swarm.Connected
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b PeerInfo) int {
		switch {
		case a.ID.Less(b.ID):
			return -1
		case b.ID.Less(a.ID):
			return 1
		}
		return 0
	})
	return out
}

// KnownPeers 节点表中的全部节点，包括未连接的
func (n *Node) KnownPeers() []PeerInfo {
	return n.swarm.Peerstore().PeerInfos()
}

// ════════════════════════════════════════════════════════════════════════════
//                              发布订阅
// ════════════════════════════════════════════════════════════════════════════

// Publish 发布消息
//
// 本地订阅者在返回前收到消息；随后转发给声明了兴趣的已连接节点。
// 单个发布者的消息在任一接收方按发送顺序到达。
func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	if err := n.ensureRunning(); err != nil {
		return err
	}
	return n.pubsub.Publish(ctx, topic, data)
}

// Subscribe 订阅主题，通过 sub.C() 或 sub.Next 读取消息，sub.Cancel() 退订
//
// 已连接节点立即得知新的兴趣；退订在下一个兴趣刷新周期传播。
func (n *Node) Subscribe(topic string) (*Subscription, error) {
	if err := n.ensureRunning(); err != nil {
		return nil, err
	}
	return n.pubsub.Subscribe(topic)
}

// Topics 本地订阅的主题，不含节点内部使用的记忆查询主题
func (n *Node) Topics() []string {
	return slices.DeleteFunc(n.pubsub.Topics(), func(t string) bool {
		return t == protocolids.MemoryQueryTopic
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              内容寻址
// ════════════════════════════════════════════════════════════════════════════

// StoreContent 存储内容并返回 CID
//
// 本地持久化后即返回；提供者公告在后台进行并按退避重试。
func (n *Node) StoreContent(ctx context.Context, data []byte) (CID, error) {
	if err := n.ensureRunning(); err != nil {
		return types.UndefCID, err
	}
	return n.memory.StoreContent(ctx, data)
}

// GetContent 读取内容，本地没有时向提供者拉取并校验
//
// 没有任何提供者能给出与 CID 一致的内容时返回 ErrNotFound。
func (n *Node) GetContent(ctx context.Context, c CID) ([]byte, error) {
	if err := n.ensureRunning(); err != nil {
		return nil, err
	}
	return n.memory.GetContent(ctx, c)
}

// FindProviders 查找能提供 c 的节点，返回空切片表示没有提供者
func (n *Node) FindProviders(ctx context.Context, c CID) ([]PeerInfo, error) {
	if err := n.ensureRunning(); err != nil {
		return nil, err
	}
	provs, err := n.memory.FindProviders(ctx, c)
	if err != nil {
		return nil, err
	}
	ps := n.swarm.Peerstore()
	out := make([]PeerInfo, 0, len(provs))
	for _, ai := range provs {
		info, ok := ps.Get(ai.ID)
		if !ok {
			info = PeerInfo{ID: ai.ID}
		}
		info.Addrs = types.UniqueAddrs(append(info.Addrs, ai.Addrs...))
		info.Connected = n.swarm.Connectedness(ai.ID) == swarm.Connected
		out = append(out, info)
	}
	return out, nil
}
