package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/internal/core/upgrader"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

type noRelayKey struct{}

// WithoutRelay 返回禁止中继回退的上下文，用于拨号中继节点自身
func WithoutRelay(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRelayKey{}, true)
}

func relayAllowed(ctx context.Context) bool {
	v, _ := ctx.Value(noRelayKey{}).(bool)
	return !v
}

// Dial 拨号地址
//
// 地址带 /p2p/<id> 时校验对端身份并合并到 DialPeer；否则接受任意对端。
func (s *Swarm) Dial(ctx context.Context, addr ma.Multiaddr) (*Conn, error) {
	tpt, p, err := types.SplitP2P(addr)
	if err != nil {
		return nil, err
	}
	if !p.IsEmpty() {
		if tpt != nil && len(tpt.Bytes()) > 0 {
			s.peers.AddAddrs(p, tpt)
		}
		return s.DialPeer(ctx, p)
	}

	c, err := s.dialAddr(ctx, addr, types.EmptyPeerID)
	if err != nil {
		return nil, &DialError{Kind: kindOf(err), Attempts: 1, Err: err}
	}
	return c, nil
}

// DialPeer 返回到 p 的连接，没有时拨号
//
// 并发调用合并为一次拨号。
func (s *Swarm) DialPeer(ctx context.Context, p types.PeerID) (*Conn, error) {
	if s.closed.Load() {
		return nil, ErrSwarmClosed
	}
	if p == s.local {
		return nil, ErrDialToSelf
	}
	if p.IsEmpty() {
		return nil, types.ErrEmptyPeerID
	}
	if c := s.bestConn(p); c != nil {
		return c, nil
	}

	// 拨号在 swarm 上下文中进行，调用方取消只影响自身等待
	allowRelay := relayAllowed(ctx)
	ch := s.dialGroup.DoChan(dialKey(p, allowRelay), func() (any, error) {
		dctx, cancel := context.WithTimeout(s.ctx, s.dialBudget(allowRelay))
		defer cancel()
		if !allowRelay {
			dctx = WithoutRelay(dctx)
		}
		return s.dialPeer(dctx, p)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Conn), nil
	case <-ctx.Done():
		return nil, &DialError{Peer: p, Kind: DialTimeout, Attempts: 0, Err: ctx.Err()}
	}
}

func dialKey(p types.PeerID, allowRelay bool) string {
	if allowRelay {
		return p.String()
	}
	return p.String() + "/direct"
}

// dialBudget 一次完整拨号（含重试与退避）的时间上限
func (s *Swarm) dialBudget(allowRelay bool) time.Duration {
	attempts := time.Duration(s.cfg.DialRetries + 1)
	budget := attempts*s.cfg.DialTimeout.Std() + (1<<s.cfg.DialRetries)*s.cfg.DialBackoff.Std()
	if allowRelay {
		budget += 2 * s.cfg.DialTimeout.Std()
	}
	return budget
}

// dialPeer 直连重试，失败后经中继回退一次
func (s *Swarm) dialPeer(ctx context.Context, p types.PeerID) (*Conn, error) {
	if c := s.bestConn(p); c != nil {
		return c, nil
	}

	var errs error
	attempts := 0
	kind := DialUnreachable
	sawTimeout, sawUnreachable := false, false

	backoff := s.cfg.DialBackoff.Std()
	for round := 0; round <= s.cfg.DialRetries; round++ {
		addrs := directAddrs(s.peers.Addrs(p))
		if len(addrs) == 0 {
			if round == 0 {
				errs = multierr.Append(errs, ErrNoAddresses)
			}
			break
		}

		for _, addr := range addrs {
			attempts++
			c, err := s.dialAddr(ctx, addr, p)
			if err == nil {
				s.peers.RecordDialSuccess(p, addr)
				s.metrics.Dial("success")
				return c, nil
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", addr, err))
			k := kindOf(err)
			s.metrics.Dial(k.String())
			log.Debug("拨号失败", "peer", p.ShortString(), "addr", addr, "kind", k, "error", err)

			if k == DialHandshakeFailed {
				return nil, &DialError{Peer: p, Kind: DialHandshakeFailed, Attempts: attempts, Err: errs}
			}
			if k == DialTimeout {
				sawTimeout = true
			} else {
				sawUnreachable = true
			}
			if s.peers.RecordDialFailure(p, addr) {
				log.Debug("节点地址全部失效，已移除", "peer", p.ShortString())
			}
			if ctx.Err() != nil {
				break
			}
		}

		if round == s.cfg.DialRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}

	if relayAllowed(ctx) && ctx.Err() == nil {
		if c, err := s.dialRelayed(ctx, p); err == nil {
			return c, nil
		} else if !errors.Is(err, errNoRelayDialer) {
			attempts++
			errs = multierr.Append(errs, fmt.Errorf("relay: %w", err))
			if kindOf(err) == DialHandshakeFailed {
				return nil, &DialError{Peer: p, Kind: DialHandshakeFailed, Attempts: attempts, Err: errs}
			}
		}
	}

	if sawTimeout && !sawUnreachable {
		kind = DialTimeout
	}
	if errs == nil {
		errs = ErrNoAddresses
	}
	return nil, &DialError{Peer: p, Kind: kind, Attempts: attempts, Err: errs}
}

var errNoRelayDialer = errors.New("no relay dialer")

// dialRelayed 经中继建立原始连接后按出站连接升级
func (s *Swarm) dialRelayed(ctx context.Context, p types.PeerID) (*Conn, error) {
	rd := s.relayDialer()
	if rd == nil {
		return nil, errNoRelayDialer
	}
	raw, err := rd.DialRelayed(ctx, p)
	if err != nil {
		s.metrics.Dial("relay_failed")
		return nil, err
	}
	uc, err := s.upgrader.Upgrade(ctx, raw, upgrader.DirOutbound, p, raw.LocalMultiaddr(), raw.RemoteMultiaddr())
	if err != nil {
		s.metrics.Dial("relay_failed")
		return nil, err
	}
	s.metrics.Dial("relayed")
	log.Info("已通过中继连接", "peer", p.ShortString(), "addr", raw.RemoteMultiaddr())
	return s.addConn(uc)
}

// dialAddr 单次拨号：传输连接加升级，受 DialTimeout 约束
func (s *Swarm) dialAddr(ctx context.Context, addr ma.Multiaddr, expected types.PeerID) (*Conn, error) {
	tpt, err := transport.Select(s.transports, addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout.Std())
	defer cancel()

	raw, err := tpt.Dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
	}
	uc, err := s.upgrader.Upgrade(ctx, raw, upgrader.DirOutbound, expected, raw.LocalMultiaddr(), raw.RemoteMultiaddr())
	if err != nil {
		return nil, err
	}
	return s.addConn(uc)
}

// directAddrs 过滤掉中继地址
func directAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if !types.IsRelayAddr(a) {
			out = append(out, a)
		}
	}
	return out
}
