package relay

import (
	"context"
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// CapabilityKey identify 中声明中继能力的键
const CapabilityKey = "relay"

// Client 中继客户端
//
// 作为 swarm 的 RelayDialer 提供回退拨号，同时接受经中继到达的连接。
type Client struct {
	swarm  *swarm.Swarm
	static []types.PeerID
}

// NewClient 创建客户端，relays 为静态配置的中继
func NewClient(sw *swarm.Swarm, relays []types.AddrInfo) *Client {
	c := &Client{swarm: sw}
	for _, ai := range relays {
		if ai.ID.IsEmpty() || ai.ID == sw.LocalPeer() {
			continue
		}
		sw.Peerstore().AddAddrs(ai.ID, ai.Addrs...)
		c.static = append(c.static, ai.ID)
	}
	sw.SetStreamHandler(protocolids.RelayStop, c.handleStop)
	sw.SetRelayDialer(c)
	return c
}

// Close 注销处理器
func (c *Client) Close() error {
	c.swarm.RemoveStreamHandler(protocolids.RelayStop)
	c.swarm.SetRelayDialer(nil)
	return nil
}

// Candidates 可用于到达 target 的中继，已连接的优先
func (c *Client) Candidates(target types.PeerID) []types.PeerID {
	seen := map[types.PeerID]bool{target: true, c.swarm.LocalPeer(): true}
	var connected, others []types.PeerID
	add := func(p types.PeerID) {
		if seen[p] {
			return
		}
		seen[p] = true
		if c.swarm.Connectedness(p) == swarm.Connected {
			connected = append(connected, p)
		} else {
			others = append(others, p)
		}
	}
	for _, p := range c.static {
		add(p)
	}
	for _, p := range c.swarm.Peerstore().PeersWithCapability(CapabilityKey, "true") {
		add(p)
	}
	return append(connected, others...)
}

// DialRelayed 经第一个候选中继建立到 target 的原始连接
func (c *Client) DialRelayed(ctx context.Context, target types.PeerID) (transport.Conn, error) {
	cands := c.Candidates(target)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %w", types.ErrUnreachable, ErrNoRelay)
	}
	relayPeer := cands[0]

	st, err := c.swarm.NewStream(swarm.WithoutRelay(ctx), relayPeer, protocolids.RelayHop)
	if err != nil {
		return nil, err
	}
	if d, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(d)
	}
	if err := writeMsg(st, hopRequest{Target: target.String()}); err != nil {
		st.Close()
		return nil, err
	}
	var resp response
	if err := readMsg(st, &resp); err != nil {
		st.Close()
		return nil, err
	}
	if err := resp.err(); err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrUnreachable, err)
	}
	_ = st.SetDeadline(time.Time{})

	log.Debug("中继电路可用", "relay", relayPeer.ShortString(), "target", target.ShortString())
	return newRelayedConn(st, relayPeer), nil
}

// handleStop 接受中继转来的电路并作为入站连接升级
func (c *Client) handleStop(st *swarm.Stream) {
	_ = st.SetDeadline(time.Now().Add(connectTimeout))
	var req stopRequest
	if err := readMsg(st, &req); err != nil {
		st.Close()
		return
	}
	src, err := types.ParsePeerID(req.Source)
	if err != nil {
		_ = writeMsg(st, response{Status: StatusMalformed})
		st.Close()
		return
	}
	if err := writeMsg(st, response{Status: StatusOK}); err != nil {
		st.Close()
		return
	}
	_ = st.SetDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	conn, err := c.swarm.AcceptRelayed(ctx, newRelayedConn(st, st.RemotePeer()))
	if err != nil {
		log.Debug("中继入站连接升级失败", "src", src.ShortString(), "error", err)
		return
	}
	if conn.RemotePeer() != src {
		log.Warn("中继声明的来源与握手身份不符", "claimed", src.ShortString(), "actual", conn.RemotePeer().ShortString())
	}
}

// relayedConn 把中继流当作原始连接
type relayedConn struct {
	*swarm.Stream
	local  ma.Multiaddr
	remote ma.Multiaddr
}

func newRelayedConn(st *swarm.Stream, relayPeer types.PeerID) *relayedConn {
	circuit := ma.StringCast("/p2p-circuit")
	remote := circuitAddr(st.RemoteMultiaddr(), relayPeer).Encapsulate(circuit)
	return &relayedConn{Stream: st, local: st.LocalMultiaddr(), remote: remote}
}

func circuitAddr(base ma.Multiaddr, relayPeer types.PeerID) ma.Multiaddr {
	if base != nil {
		if _, p, err := types.SplitP2P(base); err == nil && p.IsEmpty() {
			if a, err := types.WithP2P(base, relayPeer); err == nil {
				return a
			}
		}
		return base
	}
	a, _ := types.WithP2P(nil, relayPeer)
	return a
}

func (c *relayedConn) LocalMultiaddr() ma.Multiaddr  { return c.local }
func (c *relayedConn) RemoteMultiaddr() ma.Multiaddr { return c.remote }

var _ transport.Conn = (*relayedConn)(nil)
