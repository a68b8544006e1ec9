package upgrader

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	mss "github.com/multiformats/go-multistream"

	hyamux "github.com/hashicorp/yamux"

	"github.com/louloulin/lumos.ai-sub002/internal/core/muxer/yamux"
	"github.com/louloulin/lumos.ai-sub002/internal/core/security/noise"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("core.upgrader")

// defaultHandshakeTimeout 未配置时的升级超时
const defaultHandshakeTimeout = 10 * time.Second

// Upgrader 连接升级器
type Upgrader struct {
	security *noise.Transport
	muxCfg   *hyamux.Config
	timeout  time.Duration
}

// New 创建升级器，timeout 为整个升级过程的上限
func New(security *noise.Transport, timeout time.Duration) (*Upgrader, error) {
	if security == nil {
		return nil, ErrNilSecurity
	}
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	return &Upgrader{
		security: security,
		muxCfg:   yamux.DefaultConfig(),
		timeout:  timeout,
	}, nil
}

// LocalPeer 本地节点 ID
func (u *Upgrader) LocalPeer() types.PeerID { return u.security.LocalPeer() }

// Upgrade 升级原始连接
//
// expected 非空时校验对端身份；失败时 raw 被关闭。
func (u *Upgrader) Upgrade(ctx context.Context, raw net.Conn, dir Direction, expected types.PeerID, local, remote ma.Multiaddr) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	_ = raw.SetDeadline(deadline)
	isServer := dir == DirInbound

	if err := negotiate(raw, string(noise.ID), isServer); err != nil {
		raw.Close()
		return nil, classify("security negotiation", err)
	}

	var secure *noise.Conn
	var err error
	if isServer {
		secure, err = u.security.SecureInbound(ctx, raw)
	} else {
		secure, err = u.security.SecureOutbound(ctx, raw, expected)
	}
	if err != nil {
		raw.Close()
		log.Debug("安全握手失败", "dir", dir, "error", err)
		return nil, classify("security handshake", err)
	}

	// 握手结束时会清除截止时间
	_ = raw.SetDeadline(deadline)
	if err := negotiate(secure, string(yamux.ID), isServer); err != nil {
		secure.Close()
		return nil, classify("muxer negotiation", err)
	}
	_ = raw.SetDeadline(time.Time{})

	session, err := yamux.NewSession(secure, isServer, u.muxCfg)
	if err != nil {
		secure.Close()
		return nil, fmt.Errorf("muxer setup: %w", err)
	}

	log.Debug("连接升级成功", "peer", secure.RemotePeer().ShortString(), "dir", dir)
	return &Conn{
		session: session,
		secure:  secure,
		dir:     dir,
		local:   local,
		remote:  remote,
		opened:  time.Now(),
	}, nil
}

// negotiate 在 rwc 上对单一协议做 multistream-select
func negotiate(rwc io.ReadWriteCloser, proto string, isServer bool) error {
	if !isServer {
		return mss.SelectProtoOrFail(proto, rwc)
	}
	m := mss.NewMultistreamMuxer[string]()
	m.AddHandler(proto, nil)
	selected, _, err := m.Negotiate(rwc)
	if err != nil {
		return err
	}
	if selected != proto {
		return fmt.Errorf("%w: %s", ErrNegotiationFailed, selected)
	}
	return nil
}
