package swarm

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	mss "github.com/multiformats/go-multistream"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/internal/core/upgrader"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("core.swarm")

// StreamHandler 入站流处理器，处理器负责关闭流
type StreamHandler func(s *Stream)

// Connectedness 与对端的连接状态
type Connectedness int

const (
	// NotConnected 无连接
	NotConnected Connectedness = iota
	// Connected 至少有一条连接
	Connected
)

func (c Connectedness) String() string {
	if c == Connected {
		return "connected"
	}
	return "not_connected"
}

// RelayDialer 通过中继建立到目标节点的原始连接
type RelayDialer interface {
	DialRelayed(ctx context.Context, target types.PeerID) (transport.Conn, error)
}

// Option swarm 选项
type Option func(*Swarm)

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Swarm) { s.metrics = m }
}

// WithClock 设置时钟，测试中使用 mock
func WithClock(clk clock.Clock) Option {
	return func(s *Swarm) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// Swarm 连接管理器
type Swarm struct {
	local      types.PeerID
	cfg        config.TransportConfig
	upgrader   *upgrader.Upgrader
	peers      *peerstore.Peerstore
	transports []transport.Transport
	metrics    *metrics.Metrics
	clock      clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu        sync.RWMutex
	conns     map[types.PeerID][]*Conn
	listeners   []transport.Listener
	addrSources []func() []ma.Multiaddr
	nextID      atomic.Uint64

	handlersMu sync.RWMutex
	handlers   map[types.ProtocolID]StreamHandler
	mux        *mss.MultistreamMuxer[string]
	handlerSem *semaphore.Weighted

	dialGroup singleflight.Group
	relayMu   sync.RWMutex
	relay     RelayDialer

	notifyMu  sync.RWMutex
	notifiees []Notifiee
	events    chan connEvent
}

// New 创建 swarm
func New(up *upgrader.Upgrader, ps *peerstore.Peerstore, transports []transport.Transport, cfg config.TransportConfig, opts ...Option) *Swarm {
	ctx, cancel := context.WithCancel(context.Background())
	maxHandlers := cfg.MaxStreamHandlers
	if maxHandlers <= 0 {
		maxHandlers = config.DefaultTransportConfig().MaxStreamHandlers
	}
	s := &Swarm{
		local:      up.LocalPeer(),
		cfg:        cfg,
		upgrader:   up,
		peers:      ps,
		transports: transports,
		clock:      clock.New(),
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[types.PeerID][]*Conn),
		handlers:   make(map[types.ProtocolID]StreamHandler),
		mux:        mss.NewMultistreamMuxer[string](),
		handlerSem: semaphore.NewWeighted(int64(maxHandlers)),
		events:     make(chan connEvent, 256),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.dispatchEvents()
	if idle := cfg.IdleTimeout.Std(); idle > 0 {
		s.wg.Add(1)
		go s.runJanitor(idle)
	}
	return s
}

// LocalPeer 本地节点 ID
func (s *Swarm) LocalPeer() types.PeerID { return s.local }

// Peerstore 节点表
func (s *Swarm) Peerstore() *peerstore.Peerstore { return s.peers }

// SetRelayDialer 设置中继回退拨号器
func (s *Swarm) SetRelayDialer(d RelayDialer) {
	s.relayMu.Lock()
	s.relay = d
	s.relayMu.Unlock()
}

func (s *Swarm) relayDialer() RelayDialer {
	s.relayMu.RLock()
	defer s.relayMu.RUnlock()
	return s.relay
}

// SetStreamHandler 注册协议处理器，重复注册覆盖旧处理器
func (s *Swarm) SetStreamHandler(proto types.ProtocolID, h StreamHandler) {
	s.handlersMu.Lock()
	s.handlers[proto] = h
	s.handlersMu.Unlock()
	s.mux.AddHandler(string(proto), nil)
}

// RemoveStreamHandler 注销协议处理器
func (s *Swarm) RemoveStreamHandler(proto types.ProtocolID) {
	s.handlersMu.Lock()
	delete(s.handlers, proto)
	s.handlersMu.Unlock()
	s.mux.RemoveHandler(string(proto))
}

// Protocols 已注册的协议，按字典序
func (s *Swarm) Protocols() []types.ProtocolID {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]types.ProtocolID, 0, len(s.handlers))
	for p := range s.handlers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Swarm) handler(proto types.ProtocolID) StreamHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[proto]
}

// NewStream 打开到 p 的流，必要时先拨号
func (s *Swarm) NewStream(ctx context.Context, p types.PeerID, protocols ...types.ProtocolID) (*Stream, error) {
	c, err := s.DialPeer(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.NewStream(ctx, protocols...)
}

// ConnsToPeer 到 p 的所有存活连接
func (s *Swarm) ConnsToPeer(p types.PeerID) []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.conns[p]))
	for _, c := range s.conns[p] {
		if !c.IsClosed() {
			out = append(out, c)
		}
	}
	return out
}

// bestConn 优先直连
func (s *Swarm) bestConn(p types.PeerID) *Conn {
	var relayed *Conn
	for _, c := range s.ConnsToPeer(p) {
		if !c.IsRelayed() {
			return c
		}
		relayed = c
	}
	return relayed
}

// Conns 所有连接
func (s *Swarm) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conn
	for _, cs := range s.conns {
		out = append(out, cs...)
	}
	return out
}

// Peers 已连接节点
func (s *Swarm) Peers() []types.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PeerID, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Connectedness 与 p 的连接状态
func (s *Swarm) Connectedness(p types.PeerID) Connectedness {
	if len(s.ConnsToPeer(p)) > 0 {
		return Connected
	}
	return NotConnected
}

// ClosePeer 关闭到 p 的所有连接
func (s *Swarm) ClosePeer(p types.PeerID) error {
	s.mu.RLock()
	conns := append([]*Conn(nil), s.conns[p]...)
	s.mu.RUnlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// addConn 登记升级完成的连接并启动入站流循环
func (s *Swarm) addConn(uc *upgrader.Conn) (*Conn, error) {
	c := newConn(s, uc, s.nextID.Add(1))
	remote := c.RemotePeer()
	if remote == s.local {
		uc.Close()
		return nil, ErrDialToSelf
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		uc.Close()
		return nil, ErrSwarmClosed
	}
	s.conns[remote] = append(s.conns[remote], c)
	s.mu.Unlock()

	if uc.Direction() == upgrader.DirOutbound && uc.RemoteMultiaddr() != nil && !c.IsRelayed() {
		s.peers.AddAddrs(remote, uc.RemoteMultiaddr())
	}
	s.peers.SetConnected(remote, true)
	s.metrics.ConnOpened()

	log.Debug("连接已建立", "peer", remote.ShortString(), "dir", uc.Direction(), "addr", c.Addr(), "relayed", c.IsRelayed())
	s.emit(connEvent{conn: c, connected: true})

	s.wg.Add(1)
	go s.acceptStreams(c)
	go func() {
		select {
		case <-uc.CloseChan():
			c.Close()
		case <-s.ctx.Done():
		}
	}()
	return c, nil
}

// removeConn 在连接关闭后调用
func (s *Swarm) removeConn(c *Conn) {
	remote := c.RemotePeer()
	s.mu.Lock()
	conns := s.conns[remote]
	for i, cc := range conns {
		if cc == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(s.conns, remote)
	} else {
		s.conns[remote] = conns
	}
	last := len(conns) == 0
	s.mu.Unlock()

	if last {
		s.peers.SetConnected(remote, false)
	}
	s.metrics.ConnClosed()
	log.Debug("连接已关闭", "peer", remote.ShortString(), "addr", c.Addr())
	s.emit(connEvent{conn: c, connected: false})
}

// acceptStreams 接受入站流并交给处理器池
func (s *Swarm) acceptStreams(c *Conn) {
	defer s.wg.Done()
	for {
		raw, err := c.AcceptStream()
		if err != nil {
			c.Close()
			return
		}
		if err := s.handlerSem.Acquire(s.ctx, 1); err != nil {
			raw.Close()
			return
		}
		go func() {
			defer s.handlerSem.Release(1)
			s.handleStream(c, raw)
		}()
	}
}

func (s *Swarm) handleStream(c *Conn, raw net.Conn) {
	_ = raw.SetDeadline(s.clock.Now().Add(negotiateTimeout))
	proto, _, err := s.mux.Negotiate(raw)
	if err != nil {
		log.Debug("入站流协议协商失败", "peer", c.RemotePeer().ShortString(), "error", err)
		raw.Close()
		return
	}
	_ = raw.SetDeadline(time.Time{})

	h := s.handler(types.ProtocolID(proto))
	if h == nil {
		raw.Close()
		return
	}
	h(newStream(raw, types.ProtocolID(proto), c))
}

// runJanitor 关闭空闲超过 idle 的连接
func (s *Swarm) runJanitor(idle time.Duration) {
	defer s.wg.Done()
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			for _, c := range s.Conns() {
				since := c.idleSince()
				if since.IsZero() || now.Sub(since) < idle {
					continue
				}
				log.Debug("关闭空闲连接", "peer", c.RemotePeer().ShortString())
				c.Close()
			}
		}
	}
}

// ListenAddrs 实际监听地址
func (s *Swarm) ListenAddrs() []ma.Multiaddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ma.Multiaddr, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.Multiaddr())
	}
	return out
}

// Close 关闭所有连接、监听器与传输
func (s *Swarm) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	var conns []*Conn
	for _, cs := range s.conns {
		conns = append(conns, cs...)
	}
	s.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, c := range conns {
		_ = c.Close()
	}
	for _, t := range s.transports {
		err = multierr.Append(err, t.Close())
	}
	s.wg.Wait()
	return err
}
