package noise

import (
	"context"
	"net"
	"time"

	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ID 安全协议标识
const ID = protocolids.Noise

// Transport Noise 安全传输
type Transport struct {
	id *identity.Identity
}

// New 创建 Noise 安全传输
func New(id *identity.Identity) *Transport {
	return &Transport{id: id}
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID { return ID }

// LocalPeer 本地节点 ID
func (t *Transport) LocalPeer() types.PeerID { return t.id.PeerID() }

// SecureOutbound 作为发起方握手，expected 为空时接受任意对端
func (t *Transport) SecureOutbound(ctx context.Context, conn net.Conn, expected types.PeerID) (*Conn, error) {
	return t.secure(ctx, conn, expected, true)
}

// SecureInbound 作为响应方握手
func (t *Transport) SecureInbound(ctx context.Context, conn net.Conn) (*Conn, error) {
	return t.secure(ctx, conn, types.EmptyPeerID, false)
}

func (t *Transport) secure(ctx context.Context, conn net.Conn, expected types.PeerID, initiator bool) (*Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer conn.SetDeadline(time.Time{})
	}

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := performHandshake(conn, t.id, expected, initiator)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		// 关闭底层连接以中断握手 goroutine
		_ = conn.Close()
		<-done
		return nil, ctx.Err()
	}
}
