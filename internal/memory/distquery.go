package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

const (
	// maxReplySize 单个查询回复上限
	maxReplySize = 8 << 20

	// replyBuffer 每个进行中查询的回复缓冲
	replyBuffer = 64
)

// queryRequest 在查询主题上广播
type queryRequest struct {
	RequestID   string       `json:"request_id"`
	Origin      types.PeerID `json:"origin"`
	OriginAddrs []string     `json:"origin_addrs,omitempty"`
	Filter      Filter       `json:"filter"`
}

// queryReply 经直连流发回发起方
type queryReply struct {
	RequestID string        `json:"request_id"`
	Items     []*MemoryItem `json:"items"`

	from types.PeerID
}

// startQueries 订阅查询主题并注册回复处理器
func (b *PeerBackedBackend) startQueries() error {
	sub, err := b.pubsub.Subscribe(protocolids.MemoryQueryTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocolids.MemoryQueryTopic, err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.swarm.SetStreamHandler(protocolids.MemoryQuery, b.handleReply)
	b.wg.Add(1)
	go b.serveRequests(sub)
	return nil
}

func (b *PeerBackedBackend) stopQueries() {
	b.swarm.RemoveStreamHandler(protocolids.MemoryQuery)
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// searchDistributed 本地结果加上窗口内收到的远端回复，按 ID 保留最新版本
//
// 预期回复方是发起时声明了查询主题兴趣的直连节点；其中有节点未在窗口内
// 回复时结果标记为不完整。经转发到达的节点的回复同样合并。
func (b *PeerBackedBackend) searchDistributed(ctx context.Context, f Filter) (*QueryResult, error) {
	local, err := b.searchLocal(ctx, f)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]*MemoryItem, len(local))
	mergeNewest(merged, local...)

	expected := b.pubsub.InterestedPeers(protocolids.MemoryQueryTopic)
	reqID := uuid.NewString()
	replies := b.register(reqID)
	defer b.unregister(reqID)

	req := queryRequest{
		RequestID:   reqID,
		Origin:      b.self,
		OriginAddrs: types.AddrStrings(b.swarm.AdvertisedAddrs()),
		Filter:      f,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	answered := make(map[types.PeerID]struct{})
	published := true
	if err := b.pubsub.Publish(ctx, protocolids.MemoryQueryTopic, data); err != nil {
		log.Warn("广播记忆查询失败", "error", err)
		published = false
	}

	if published && len(expected) > 0 {
		timer := b.clock.Timer(b.cfg.QueryWindow.Std())
		defer timer.Stop()
	collect:
		for {
			select {
			case r := <-replies:
				answered[r.from] = struct{}{}
				for _, it := range r.Items {
					if it == nil || it.Validate() != nil || !f.Match(it) {
						continue
					}
					mergeNewest(merged, it)
				}
			case <-timer.C:
				break collect
			case <-ctx.Done():
				break collect
			}
		}
	}

	incomplete := !published
	for _, p := range expected {
		if _, ok := answered[p]; !ok {
			incomplete = true
			break
		}
	}

	items := make([]*MemoryItem, 0, len(merged))
	for _, it := range merged {
		items = append(items, it)
	}
	sortItems(items)
	if n := b.limit(f); len(items) > n {
		items = items[:n]
	}

	log.Debug("分布式查询完成",
		"request", reqID,
		"items", len(items),
		"expected", len(expected),
		"responders", len(answered),
		"incomplete", incomplete)
	return &QueryResult{
		Items:      items,
		Incomplete: incomplete,
		Responders: len(answered),
		Expected:   len(expected),
	}, nil
}

func (b *PeerBackedBackend) register(id string) <-chan queryReply {
	ch := make(chan queryReply, replyBuffer)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	return ch
}

func (b *PeerBackedBackend) unregister(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// serveRequests 消费查询主题，请求交给有界的处理协程
func (b *PeerBackedBackend) serveRequests(sub *pubsub.Subscription) {
	defer b.wg.Done()
	for m := range sub.C() {
		var req queryRequest
		if err := json.Unmarshal(m.Data, &req); err != nil || req.RequestID == "" || req.Origin.IsEmpty() {
			log.Debug("忽略无效的记忆查询", "from", m.From.ShortString())
			continue
		}
		if req.Origin == b.self {
			continue
		}
		if !b.querySem.TryAcquire(1) {
			log.Debug("查询处理繁忙，丢弃请求", "origin", req.Origin.ShortString())
			continue
		}
		if !b.spawn(func() {
			defer b.querySem.Release(1)
			b.answer(req)
		}) {
			b.querySem.Release(1)
		}
	}
}

// answer 查本地并把结果发回发起方
func (b *PeerBackedBackend) answer(req queryRequest) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.QueryWindow.Std())
	defer cancel()

	items, err := b.searchLocal(ctx, req.Filter)
	if err != nil {
		log.Warn("处理记忆查询失败", "request", req.RequestID, "error", err)
		return
	}
	if addrs, err := types.ParseMultiaddrs(req.OriginAddrs); err == nil && len(addrs) > 0 {
		b.swarm.Peerstore().AddAddrs(req.Origin, addrs...)
	}

	data, err := json.Marshal(queryReply{RequestID: req.RequestID, Items: items})
	if err != nil {
		return
	}
	st, err := b.swarm.NewStream(ctx, req.Origin, protocolids.MemoryQuery)
	if err != nil {
		log.Debug("无法回复记忆查询", "origin", req.Origin.ShortString(), "error", err)
		return
	}
	defer st.Close()
	_ = st.SetWriteDeadline(time.Now().Add(b.cfg.QueryWindow.Std()))
	if err := msgio.WriteVarintFrame(st, data); err != nil {
		log.Debug("发送查询回复失败", "origin", req.Origin.ShortString(), "error", err)
	}
}

// handleReply 把回复交给对应的进行中查询，过期的回复被丢弃
func (b *PeerBackedBackend) handleReply(st *swarm.Stream) {
	defer st.Close()
	_ = st.SetReadDeadline(time.Now().Add(b.cfg.QueryWindow.Std()))

	data, err := msgio.ReadVarintFrame(st, maxReplySize)
	if err != nil {
		return
	}
	var r queryReply
	if err := json.Unmarshal(data, &r); err != nil {
		log.Debug("无效的查询回复", "peer", st.RemotePeer().ShortString(), "error", err)
		return
	}
	r.from = st.RemotePeer()

	b.mu.Lock()
	ch, ok := b.pending[r.RequestID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
		log.Debug("查询回复缓冲已满", "request", r.RequestID)
	}
}
