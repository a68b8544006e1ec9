package pubsub

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("protocol.pubsub")

const (
	// maxInterestHops 转发兴趣的跳数上限
	maxInterestHops = 8

	openTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	// frameOverhead RPC 帧相对消息体的额外开销
	frameOverhead = 1024
)

// 指标事件
const (
	eventPublished = "published"
	eventDelivered = "delivered"
	eventForwarded = "forwarded"
	eventDuplicate = "duplicate"
	eventDropped   = "dropped"
	eventInvalid   = "invalid"
)

// Option 路由器选项
type Option func(*Router)

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// peerState 单个已连接对端
type peerState struct {
	id  types.PeerID
	out chan *rpc

	// 以下字段由 Router.mu 保护
	topics    map[string]int // 对端声明的兴趣 -> 跳数
	announced map[string]int // 已向对端公告的兴趣 -> 跳数

	ctx    context.Context
	cancel context.CancelFunc
}

// Router 发布订阅路由器
type Router struct {
	swarm   *swarm.Swarm
	self    types.PeerID
	cfg     config.PubSubConfig
	metrics *metrics.Metrics

	seqno atomic.Uint64
	seen  *expirable.LRU[msgKey, struct{}]
	order *orderBuffer

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	peers  map[types.PeerID]*peerState
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建路由器并注册协议处理器
func New(sw *swarm.Swarm, cfg config.PubSubConfig, opts ...Option) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		swarm:  sw,
		self:   sw.LocalPeer(),
		cfg:    cfg,
		seen:   expirable.NewLRU[msgKey, struct{}](cfg.SeenCacheSize, nil, cfg.SeenTTL.Std()),
		subs:   make(map[string]map[*Subscription]struct{}),
		peers:  make(map[types.PeerID]*peerState),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	// 序号从当前时间开始，重启后仍单调递增
	r.seqno.Store(uint64(time.Now().UnixNano()))
	r.order = newOrderBuffer(cfg.HoldBack.Std(), r.deliverInbound)

	sw.SetStreamHandler(protocolids.PubSub, r.handleStream)
	sw.Notify(&swarm.NotifyBundle{
		ConnectedF: func(c *swarm.Conn) {
			r.addPeer(c.RemotePeer())
		},
		DisconnectedF: func(c *swarm.Conn) {
			if r.swarm.Connectedness(c.RemotePeer()) == swarm.NotConnected {
				r.removePeer(c.RemotePeer())
			}
		},
	})
	for _, p := range sw.Peers() {
		r.addPeer(p)
	}

	r.wg.Add(1)
	go r.refreshLoop()
	return r
}

// ============================================================================
//                              公共接口
// ============================================================================

// Subscribe 订阅主题
//
// 首个本地订阅立即向所有已连接对端公告兴趣。
func (r *Router) Subscribe(topic string) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	sub := newSubscription(r, topic, r.cfg.SubscriptionBuffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	set, ok := r.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.subs[topic] = set
	}
	set[sub] = struct{}{}
	if !ok {
		log.Debug("订阅主题", "topic", topic)
		for _, ps := range r.peers {
			r.syncInterestLocked(ps, false)
		}
	}
	return sub, nil
}

// Publish 发布消息
//
// 返回前消息已进入所有本地订阅者的通道（阻塞直到 ctx 结束），并已进入
// 每个声明了兴趣的对端的出站队列；队列满时同样等待 ctx。没有任何订阅者
// 不是错误。
func (r *Router) Publish(ctx context.Context, topic string, data []byte) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if len(data) > r.cfg.MaxMessageSize {
		return ErrMessageTooLarge
	}
	if r.ctx.Err() != nil {
		return ErrClosed
	}

	m := &Message{
		From:         r.self,
		Seqno:        r.seqno.Add(1),
		Topic:        topic,
		Data:         append([]byte(nil), data...),
		ReceivedFrom: r.self,
	}
	r.seen.Add(m.key(), struct{}{})
	r.metrics.PubSub(eventPublished)

	for _, sub := range r.localSubs(topic) {
		if err := sub.send(ctx, m); err != nil {
			return err
		}
	}
	return r.forwardLocal(ctx, m)
}

// Topics 本地订阅的主题
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for t := range r.subs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// InterestedPeers 声明了主题兴趣（含转发兴趣）的已连接对端
func (r *Router) InterestedPeers(topic string) []types.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.PeerID
	for id, ps := range r.peers {
		if _, ok := ps.topics[topic]; ok {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b types.PeerID) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return out
}

// Close 关闭路由器，所有订阅通道被关闭
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var subs []*Subscription
	for _, set := range r.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	r.subs = make(map[string]map[*Subscription]struct{})
	for id, ps := range r.peers {
		ps.cancel()
		delete(r.peers, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.swarm.RemoveStreamHandler(protocolids.PubSub)
	r.order.close()
	r.wg.Wait()
	for _, sub := range subs {
		sub.once.Do(func() {
			close(sub.done)
			sub.close()
		})
	}
	return nil
}

// ============================================================================
//                              订阅与投递
// ============================================================================

func (r *Router) removeSubscription(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sub.topic]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, sub.topic)
		log.Debug("退订主题", "topic", sub.topic)
	}
}

func (r *Router) localSubs(topic string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subs[topic]
	out := make([]*Subscription, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// deliverInbound 投递远端消息，订阅者缓冲满时丢弃
func (r *Router) deliverInbound(m *Message) {
	for _, sub := range r.localSubs(m.Topic) {
		if sub.offer(m) {
			r.metrics.PubSub(eventDelivered)
			continue
		}
		r.metrics.PubSub(eventDropped)
		log.Debug("订阅缓冲已满，丢弃消息", "topic", m.Topic, "from", m.From.ShortString())
	}
}

// forward 转发给声明了兴趣的对端，跳过来源与发布者；出站队列满时丢弃
func (r *Router) forward(m *Message) {
	for _, ps := range r.targets(m) {
		if r.enqueue(ps, &rpc{Messages: []*Message{m}}) {
			r.metrics.PubSub(eventForwarded)
		} else {
			r.metrics.PubSub(eventDropped)
			log.Debug("出站队列已满，丢弃消息", "peer", ps.id.ShortString(), "topic", m.Topic)
		}
	}
}

// forwardLocal 本地发布的消息在出站队列满时等待，而不是丢弃
func (r *Router) forwardLocal(ctx context.Context, m *Message) error {
	for _, ps := range r.targets(m) {
		select {
		case ps.out <- &rpc{Messages: []*Message{m}}:
			r.metrics.PubSub(eventForwarded)
		case <-ps.ctx.Done():
			// 对端已断开
		case <-r.ctx.Done():
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Router) targets(m *Message) []*peerState {
	r.mu.RLock()
	targets := make([]*peerState, 0, len(r.peers))
	for id, ps := range r.peers {
		if id == m.ReceivedFrom || id == m.From {
			continue
		}
		if _, ok := ps.topics[m.Topic]; ok {
			targets = append(targets, ps)
		}
	}
	r.mu.RUnlock()
	return targets
}

// handleRPC 处理入站帧
func (r *Router) handleRPC(from types.PeerID, msg *rpc) {
	if len(msg.Subscriptions) > 0 {
		r.updateInterest(from, msg.Subscriptions)
	}
	for _, m := range msg.Messages {
		if len(m.Data) > r.cfg.MaxMessageSize {
			r.metrics.PubSub(eventInvalid)
			continue
		}
		if m.From == r.self {
			continue
		}
		k := m.key()
		if r.seen.Contains(k) {
			r.metrics.PubSub(eventDuplicate)
			continue
		}
		r.seen.Add(k, struct{}{})
		m.ReceivedFrom = from
		r.order.push(m)
		r.forward(m)
	}
}

// ============================================================================
//                              对端与流
// ============================================================================

func (r *Router) addPeer(id types.PeerID) *peerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if ps, ok := r.peers[id]; ok {
		return ps
	}
	ctx, cancel := context.WithCancel(r.ctx)
	ps := &peerState{
		id:        id,
		out:       make(chan *rpc, r.cfg.PeerQueueSize),
		topics:    make(map[string]int),
		announced: make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.peers[id] = ps
	r.syncInterestLocked(ps, false)

	r.wg.Add(1)
	go r.writeLoop(ps)
	return ps
}

func (r *Router) removePeer(id types.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.peers[id]; ok {
		ps.cancel()
		delete(r.peers, id)
	}
}

func (r *Router) enqueue(ps *peerState, m *rpc) bool {
	select {
	case ps.out <- m:
		return true
	default:
		return false
	}
}

// writeLoop 按 FIFO 顺序把帧写入对端的长期出站流
func (r *Router) writeLoop(ps *peerState) {
	defer r.wg.Done()
	var st *swarm.Stream
	defer func() {
		if st != nil {
			st.Close()
		}
	}()

	for {
		select {
		case <-ps.ctx.Done():
			return
		case m := <-ps.out:
			var err error
			st, err = r.write(ps, st, m.marshal())
			if err == nil {
				continue
			}
			log.Debug("发送 pubsub 帧失败", "peer", ps.id.ShortString(), "error", err)
			r.metrics.PubSub(eventDropped)
			if len(m.Subscriptions) > 0 {
				r.resetAnnounced(ps)
			}
		}
	}
}

// write 写一帧，流失效时重开一次
func (r *Router) write(ps *peerState, st *swarm.Stream, frame []byte) (*swarm.Stream, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if st == nil {
			ctx, cancel := context.WithTimeout(ps.ctx, openTimeout)
			st, err = r.swarm.NewStream(ctx, ps.id, protocolids.PubSub)
			cancel()
			if err != nil {
				return nil, err
			}
		}
		_ = st.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err = msgio.WriteVarintFrame(st, frame); err == nil {
			return st, nil
		}
		st.Close()
		st = nil
	}
	return nil, err
}

// handleStream 交给路由器自己的读协程，不占用 swarm 的处理器槽位
func (r *Router) handleStream(st *swarm.Stream) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		st.Close()
		return
	}
	r.wg.Add(1)
	go r.readLoop(st)
}

func (r *Router) readLoop(st *swarm.Stream) {
	defer r.wg.Done()
	defer st.Close()
	stop := context.AfterFunc(r.ctx, func() { _ = st.Reset() })
	defer stop()

	from := st.RemotePeer()
	if r.addPeer(from) == nil {
		return
	}
	rd := msgio.NewReader(st, r.cfg.MaxMessageSize+frameOverhead)
	for {
		b, err := rd.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && r.ctx.Err() == nil {
				log.Debug("读取 pubsub 帧失败", "peer", from.ShortString(), "error", err)
			}
			return
		}
		msg, err := unmarshalRPC(b)
		if err != nil {
			r.metrics.PubSub(eventInvalid)
			log.Debug("丢弃无效 pubsub 帧", "peer", from.ShortString(), "error", err)
			return
		}
		r.handleRPC(from, msg)
	}
}
