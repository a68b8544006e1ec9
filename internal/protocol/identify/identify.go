// Package identify 在连接建立后交换节点信息
//
// 每条新连接上双方各自推送一次 {监听地址, 协议, 代理版本, 能力}，
// 接收方写入节点表。能力（如 relay=true、agent 类型）取代了集中式的服务注册。
// 本地能力变化时重新推送给所有已连接节点。
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("protocol.identify")

// DefaultAgentVersion 默认代理版本
const DefaultAgentVersion = "lumos/1.0.0"

const (
	maxMessageSize = 64 << 10
	pushTimeout    = 10 * time.Second
)

// Message identify 消息
type Message struct {
	ListenAddrs  []string          `json:"listen_addrs"`
	ObservedAddr string            `json:"observed_addr,omitempty"`
	Protocols    []string          `json:"protocols"`
	AgentVersion string            `json:"agent_version"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// Service identify 服务
type Service struct {
	swarm *swarm.Swarm
	agent string

	mu         sync.Mutex
	caps       map[string]string
	identified map[types.PeerID]chan struct{}
	observed   map[string]int
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建服务并注册处理器；每条新连接自动推送
func New(sw *swarm.Swarm, agent string) *Service {
	if agent == "" {
		agent = DefaultAgentVersion
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		swarm:      sw,
		agent:      agent,
		caps:       make(map[string]string),
		identified: make(map[types.PeerID]chan struct{}),
		observed:   make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}
	sw.SetStreamHandler(protocolids.Identify, s.handle)
	sw.Notify(&swarm.NotifyBundle{
		ConnectedF: func(c *swarm.Conn) {
			s.goPush(c)
		},
		DisconnectedF: func(c *swarm.Conn) {
			if s.swarm.Connectedness(c.RemotePeer()) == swarm.NotConnected {
				s.mu.Lock()
				delete(s.identified, c.RemotePeer())
				s.mu.Unlock()
			}
		},
	})
	return s
}

// SetCapability 设置本地能力并推送给已连接节点
func (s *Service) SetCapability(key, value string) {
	s.mu.Lock()
	if s.caps[key] == value {
		s.mu.Unlock()
		return
	}
	s.caps[key] = value
	s.mu.Unlock()

	for _, c := range s.swarm.Conns() {
		s.goPush(c)
	}
}

// goPush 异步推送，关闭后不再启动新的推送
func (s *Service) goPush(c *swarm.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.push(c)
	}()
}

// Capabilities 本地能力副本
func (s *Service) Capabilities() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.caps)
}

// ObservedAddrs 远端观察到的本地地址及次数
func (s *Service) ObservedAddrs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.observed)
}

// WaitIdentified 等待收到 p 的 identify 消息
func (s *Service) WaitIdentified(ctx context.Context, p types.PeerID) error {
	select {
	case <-s.waiter(p):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) waiter(p types.PeerID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.identified[p]
	if !ok {
		ch = make(chan struct{})
		s.identified[p] = ch
	}
	return ch
}

func (s *Service) markIdentified(p types.PeerID) {
	ch := s.waiter(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Service) localMessage(c *swarm.Conn) *Message {
	protos := s.swarm.Protocols()
	m := &Message{
		ListenAddrs:  types.AddrStrings(s.swarm.AdvertisedAddrs()),
		Protocols:    make([]string, 0, len(protos)),
		AgentVersion: s.agent,
		Capabilities: s.Capabilities(),
	}
	for _, p := range protos {
		m.Protocols = append(m.Protocols, string(p))
	}
	if c != nil && c.RemoteMultiaddr() != nil {
		m.ObservedAddr = c.RemoteMultiaddr().String()
	}
	return m
}

// push 在连接 c 上推送本地信息
func (s *Service) push(c *swarm.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, pushTimeout)
	defer cancel()

	st, err := c.NewStream(ctx, protocolids.Identify)
	if err != nil {
		log.Debug("打开 identify 流失败", "peer", c.RemotePeer().ShortString(), "error", err)
		return
	}
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(pushTimeout))

	b, err := json.Marshal(s.localMessage(c))
	if err != nil {
		return
	}
	if err := msgio.WriteVarintFrame(st, b); err != nil {
		log.Debug("推送 identify 失败", "peer", c.RemotePeer().ShortString(), "error", err)
	}
}

// handle 接收对端推送
func (s *Service) handle(st *swarm.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(pushTimeout))

	from := st.RemotePeer()
	m, err := readMessage(st)
	if err != nil {
		log.Debug("读取 identify 失败", "peer", from.ShortString(), "error", err)
		return
	}
	s.record(from, m)
}

func readMessage(st *swarm.Stream) (*Message, error) {
	b, err := msgio.ReadVarintFrame(st, maxMessageSize)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode identify: %w", err)
	}
	return m, nil
}

// record 写入节点表
func (s *Service) record(from types.PeerID, m *Message) {
	ps := s.swarm.Peerstore()
	addrs := parseAddrs(m.ListenAddrs)
	if len(addrs) > 0 {
		ps.AddAddrs(from, addrs...)
	}
	ps.SetMeta(from, m.Protocols, m.AgentVersion, m.Capabilities)
	ps.MarkSeen(from)

	if m.ObservedAddr != "" {
		s.mu.Lock()
		s.observed[m.ObservedAddr]++
		s.mu.Unlock()
	}
	s.markIdentified(from)
	log.Debug("已识别节点",
		"peer", from.ShortString(),
		"agent", m.AgentVersion,
		"addrs", len(addrs),
		"caps", len(m.Capabilities))
}

func parseAddrs(ss []string) []types.Multiaddr {
	out := make([]types.Multiaddr, 0, len(ss))
	for _, str := range ss {
		if a, err := types.ParseMultiaddr(str); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Close 注销处理器并等待推送结束
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.swarm.RemoveStreamHandler(protocolids.Identify)
	s.wg.Wait()
	return nil
}
