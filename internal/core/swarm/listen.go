package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/internal/core/upgrader"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Listen 在给定地址上监听，任一地址失败即返回错误
func (s *Swarm) Listen(addrs ...ma.Multiaddr) error {
	if s.closed.Load() {
		return ErrSwarmClosed
	}
	for _, addr := range addrs {
		tpt, err := transport.Select(s.transports, addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		l, err := tpt.Listen(addr)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, l)
		s.mu.Unlock()

		log.Info("开始监听", "addr", l.Multiaddr(), "transport", tpt.Name())
		s.wg.Add(1)
		go s.acceptLoop(l)
	}
	return nil
}

func (s *Swarm) acceptLoop(l transport.Listener) {
	defer s.wg.Done()
	for {
		raw, err := l.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug("接受连接失败", "addr", l.Multiaddr(), "error", err)
			continue
		}
		go func() {
			if _, err := s.upgradeInbound(raw); err != nil {
				log.Debug("入站连接升级失败", "remote", raw.RemoteMultiaddr(), "error", err)
			}
		}()
	}
}

// upgradeInbound 升级入站原始连接并登记
func (s *Swarm) upgradeInbound(raw transport.Conn) (*Conn, error) {
	uc, err := s.upgrader.Upgrade(s.ctx, raw, upgrader.DirInbound, types.EmptyPeerID, raw.LocalMultiaddr(), raw.RemoteMultiaddr())
	if err != nil {
		return nil, err
	}
	return s.addConn(uc)
}

// AcceptRelayed 接受经中继到达的原始连接
func (s *Swarm) AcceptRelayed(ctx context.Context, raw transport.Conn) (*Conn, error) {
	uc, err := s.upgrader.Upgrade(ctx, raw, upgrader.DirInbound, types.EmptyPeerID, raw.LocalMultiaddr(), raw.RemoteMultiaddr())
	if err != nil {
		return nil, err
	}
	return s.addConn(uc)
}

// AddAddrSource 追加通告地址来源，例如 NAT 映射得到的外部地址
func (s *Swarm) AddAddrSource(src func() []ma.Multiaddr) {
	s.mu.Lock()
	s.addrSources = append(s.addrSources, src)
	s.mu.Unlock()
}

// AdvertisedAddrs 向其他节点通告的地址
//
// 0.0.0.0 与 :: 监听地址展开为各网卡地址，回环地址排在最后。
func (s *Swarm) AdvertisedAddrs() []ma.Multiaddr {
	listen := s.ListenAddrs()
	s.mu.RLock()
	sources := append([]func() []ma.Multiaddr(nil), s.addrSources...)
	s.mu.RUnlock()

	var out []ma.Multiaddr
	if ifaces, err := manet.InterfaceMultiaddrs(); err == nil {
		if resolved, err := manet.ResolveUnspecifiedAddresses(listen, ifaces); err == nil {
			listen = resolved
		}
	}
	var loopback []ma.Multiaddr
	for _, a := range listen {
		if manet.IsIPLoopback(a) {
			loopback = append(loopback, a)
			continue
		}
		out = append(out, a)
	}
	for _, src := range sources {
		out = append(out, src()...)
	}
	return types.UniqueAddrs(append(out, loopback...))
}
