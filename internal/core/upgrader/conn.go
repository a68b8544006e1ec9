package upgrader

import (
	"context"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/louloulin/lumos.ai-sub002/internal/core/muxer/yamux"
	"github.com/louloulin/lumos.ai-sub002/internal/core/security/noise"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Direction 连接方向
type Direction int

const (
	// DirOutbound 本地发起
	DirOutbound Direction = iota
	// DirInbound 对端发起
	DirInbound
)

func (d Direction) String() string {
	if d == DirInbound {
		return "inbound"
	}
	return "outbound"
}

// Conn 升级完成的连接
type Conn struct {
	session *yamux.Session
	secure  *noise.Conn

	dir    Direction
	local  ma.Multiaddr
	remote ma.Multiaddr
	opened time.Time
}

// LocalPeer 本地节点 ID
func (c *Conn) LocalPeer() types.PeerID { return c.secure.LocalPeer() }

// RemotePeer 已验证的对端节点 ID
func (c *Conn) RemotePeer() types.PeerID { return c.secure.RemotePeer() }

// Direction 连接方向
func (c *Conn) Direction() Direction { return c.dir }

// LocalMultiaddr 本地地址
func (c *Conn) LocalMultiaddr() ma.Multiaddr { return c.local }

// RemoteMultiaddr 对端地址
func (c *Conn) RemoteMultiaddr() ma.Multiaddr { return c.remote }

// Opened 建立时间
func (c *Conn) Opened() time.Time { return c.opened }

// OpenStream 打开一条原始流，协议协商由调用方完成
func (c *Conn) OpenStream(ctx context.Context) (net.Conn, error) {
	return c.session.OpenStream(ctx)
}

// AcceptStream 等待对端打开的流
func (c *Conn) AcceptStream() (net.Conn, error) { return c.session.AcceptStream() }

// NumStreams 活跃流数量
func (c *Conn) NumStreams() int { return c.session.NumStreams() }

// IsClosed 是否已关闭
func (c *Conn) IsClosed() bool { return c.session.IsClosed() }

// CloseChan 连接关闭时关闭
func (c *Conn) CloseChan() <-chan struct{} { return c.session.CloseChan() }

// Close 关闭会话与底层连接
func (c *Conn) Close() error {
	err := c.session.Close()
	_ = c.secure.Close()
	return err
}
