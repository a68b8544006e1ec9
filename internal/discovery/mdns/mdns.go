// Package mdns 通过局域网组播发现节点
//
// 服务实例的 TXT 记录携带 PeerID 与可拨号地址，发现的节点交给回调
// （通常是 DHT.AddPeer）拨号并加入路由表。默认关闭。
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("discovery.mdns")

const (
	// Domain mDNS 域
	Domain = "local."

	// maxTXTLen 单条 TXT 记录上限
	maxTXTLen = 255

	txtID    = "id="
	txtAddrs = "addrs="

	// rediscoverAfter 同一节点在此时间内不重复回调
	rediscoverAfter = 5 * time.Minute

	// handleTimeout 单次回调超时
	handleTimeout = 15 * time.Second
)

var (
	// ErrNoLANAddress 没有可通告的局域网地址
	ErrNoLANAddress = errors.New("mdns: no LAN address to advertise")
)

// PeerHandler 发现节点回调
type PeerHandler func(ctx context.Context, ai types.AddrInfo) error

// Service mDNS 通告与查询
type Service struct {
	self     types.PeerID
	service  string
	interval time.Duration
	addrs    func() []ma.Multiaddr
	handle   PeerHandler

	server *mdns.Server

	mu   sync.Mutex
	seen map[types.PeerID]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建服务，addrs 在启动时取一次用于通告
func New(self types.PeerID, service string, interval time.Duration, addrs func() []ma.Multiaddr, handle PeerHandler) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		self:     self,
		service:  service,
		interval: interval,
		addrs:    addrs,
		handle:   handle,
		seen:     make(map[types.PeerID]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 注册 mDNS 服务并开始周期查询
func (s *Service) Start() error {
	addrs := lanAddrs(s.addrs())
	ips, port := ipsAndPort(addrs)
	if len(ips) == 0 || port == 0 {
		return ErrNoLANAddress
	}

	instance := "lumos-" + s.self.ShortString()
	zone, err := mdns.NewMDNSService(instance, s.service, Domain, "", port, ips, buildTXT(s.self, addrs))
	if err != nil {
		return fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}
	s.server = server
	log.Info("mDNS 已启动", "service", s.service, "port", port, "addrs", len(addrs))

	s.wg.Add(1)
	go s.queryLoop()
	return nil
}

// Close 停止查询并注销服务
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	if s.server != nil {
		return s.server.Shutdown()
	}
	return nil
}

func (s *Service) queryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.query()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) query() {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			s.handleEntry(e)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:             s.service,
		Domain:              "local",
		Timeout:             s.interval / 2,
		Entries:             entries,
		WantUnicastResponse: true,
	})
	close(entries)
	<-done
	if err != nil {
		log.Debug("mDNS 查询失败", "error", err)
	}
}

func (s *Service) handleEntry(e *mdns.ServiceEntry) {
	ai, ok := parseEntry(e)
	if !ok || ai.ID == s.self {
		return
	}

	now := time.Now()
	s.mu.Lock()
	last, known := s.seen[ai.ID]
	if known && now.Sub(last) < rediscoverAfter {
		s.mu.Unlock()
		return
	}
	s.seen[ai.ID] = now
	s.mu.Unlock()

	log.Debug("mDNS 发现节点", "peer", ai.ID.ShortString(), "addrs", len(ai.Addrs))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, handleTimeout)
		defer cancel()
		if err := s.handle(ctx, ai); err != nil {
			log.Debug("连接 mDNS 节点失败", "peer", ai.ID.ShortString(), "error", err)
			s.mu.Lock()
			delete(s.seen, ai.ID)
			s.mu.Unlock()
		}
	}()
}

// ============================================================================
//                              TXT 记录
// ============================================================================

// buildTXT 生成 TXT 记录，地址按 255 字节分片到多条 addrs= 记录
func buildTXT(id types.PeerID, addrs []ma.Multiaddr) []string {
	txt := []string{txtID + id.String()}
	cur := ""
	flush := func() {
		if cur != "" {
			txt = append(txt, txtAddrs+cur)
		}
		cur = ""
	}
	for _, a := range addrs {
		str := a.String()
		if len(txtAddrs)+len(str) > maxTXTLen {
			continue
		}
		next := str
		if cur != "" {
			next = cur + "," + str
		}
		if len(txtAddrs)+len(next) > maxTXTLen {
			flush()
			next = str
		}
		cur = next
	}
	flush()
	return txt
}

// parseEntry 从 TXT 记录解析节点
func parseEntry(e *mdns.ServiceEntry) (types.AddrInfo, bool) {
	if e == nil {
		return types.AddrInfo{}, false
	}
	var ai types.AddrInfo
	for _, field := range e.InfoFields {
		switch {
		case strings.HasPrefix(field, txtID):
			id, err := types.ParsePeerID(strings.TrimPrefix(field, txtID))
			if err != nil {
				return types.AddrInfo{}, false
			}
			ai.ID = id
		case strings.HasPrefix(field, txtAddrs):
			for _, s := range strings.Split(strings.TrimPrefix(field, txtAddrs), ",") {
				if a, err := types.ParseMultiaddr(s); err == nil {
					ai.Addrs = append(ai.Addrs, a)
				}
			}
		}
	}
	ai.Addrs = types.UniqueAddrs(ai.Addrs)
	if ai.ID.IsEmpty() || len(ai.Addrs) == 0 {
		return types.AddrInfo{}, false
	}
	return ai, true
}

// lanAddrs 过滤回环与链路本地地址
func lanAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if manet.IsIPLoopback(a) || manet.IsIP6LinkLocal(a) || manet.IsIPUnspecified(a) {
			continue
		}
		if types.IsRelayAddr(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ipsAndPort 通告用的 IP 列表与第一个 TCP 端口
func ipsAndPort(addrs []ma.Multiaddr) ([]net.IP, int) {
	var ips []net.IP
	port := 0
	seen := make(map[string]struct{})
	for _, a := range addrs {
		na, err := manet.ToNetAddr(a)
		if err != nil {
			continue
		}
		tcp, ok := na.(*net.TCPAddr)
		if !ok {
			continue
		}
		if port == 0 {
			port = tcp.Port
		}
		if _, dup := seen[tcp.IP.String()]; !dup {
			seen[tcp.IP.String()] = struct{}{}
			ips = append(ips, tcp.IP)
		}
	}
	return ips, port
}
