package swarm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mss "github.com/multiformats/go-multistream"

	"github.com/louloulin/lumos.ai-sub002/internal/core/upgrader"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// negotiateTimeout 流协议协商超时
const negotiateTimeout = 10 * time.Second

// Conn swarm 管理的连接
type Conn struct {
	*upgrader.Conn

	id    uint64
	swarm *Swarm

	streams    atomic.Int32
	lastActive atomic.Int64
	closed     atomic.Bool
}

func newConn(s *Swarm, uc *upgrader.Conn, id uint64) *Conn {
	c := &Conn{Conn: uc, id: id, swarm: s}
	c.touch()
	return c
}

// ID 连接序号
func (c *Conn) ID() uint64 { return c.id }

// IsRelayed 是否为中继连接
func (c *Conn) IsRelayed() bool {
	return c.RemoteMultiaddr() != nil && types.IsRelayAddr(c.RemoteMultiaddr())
}

// NewStream 打开流并按顺序协商 protocols 中的第一个可用协议
func (c *Conn) NewStream(ctx context.Context, protocols ...types.ProtocolID) (*Stream, error) {
	if len(protocols) == 0 {
		return nil, fmt.Errorf("%w: none requested", ErrNoHandler)
	}
	raw, err := c.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(negotiateTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = raw.SetDeadline(deadline)

	protos := make([]string, len(protocols))
	for i, p := range protocols {
		protos[i] = string(p)
	}
	selected, err := mss.SelectOneOf(protos, raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoHandler, err)
	}
	_ = raw.SetDeadline(time.Time{})

	return newStream(raw, types.ProtocolID(selected), c), nil
}

// Close 关闭连接
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.Conn.Close()
	c.swarm.removeConn(c)
	return err
}

// idleSince 无活跃流的起始时间，有活跃流时返回零值
func (c *Conn) idleSince() time.Time {
	if c.streams.Load() > 0 || c.NumStreams() > 0 {
		return time.Time{}
	}
	return time.Unix(0, c.lastActive.Load())
}

func (c *Conn) touch() { c.lastActive.Store(c.swarm.clock.Now().UnixNano()) }

func (c *Conn) streamOpened() {
	c.streams.Add(1)
	c.touch()
}

func (c *Conn) streamClosed() {
	c.streams.Add(-1)
	c.touch()
}

// Addr 对端地址的字符串形式
func (c *Conn) Addr() string {
	if a := c.RemoteMultiaddr(); a != nil {
		return a.String()
	}
	return ""
}
