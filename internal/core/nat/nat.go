// Package nat 通过 NAT-PMP 映射 TCP 监听端口
//
// 映射成功后得到的外部地址会通过 identify 通告给其他节点。
// 默认关闭；网关不支持 NAT-PMP 时节点仍依赖中继回退保持可达。
package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

var log = logger.Logger("core.nat")

var (
	// ErrNoGateway 找不到网关
	ErrNoGateway = errors.New("no NAT-PMP gateway found")

	// ErrMappingFailed 端口映射失败
	ErrMappingFailed = errors.New("port mapping failed")
)

// pmpClient natpmp.Client 中用到的方法
type pmpClient interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
}

// mapping 一条已建立的映射
type mapping struct {
	internal ma.Multiaddr
	port     int
	extPort  int
	ws       bool
}

// Mapper NAT-PMP 端口映射器
type Mapper struct {
	cfg    config.NATConfig
	client pmpClient

	mu         sync.RWMutex
	externalIP net.IP
	mappings   []*mapping

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMapper 创建映射器，网关在 Start 时探测
func NewMapper(cfg config.NATConfig) *Mapper {
	return &Mapper{cfg: cfg}
}

func (m *Mapper) connect() error {
	if m.client != nil {
		return nil
	}
	var gw net.IP
	if m.cfg.Gateway != "" {
		gw = net.ParseIP(m.cfg.Gateway)
		if gw == nil {
			return fmt.Errorf("%w: bad gateway %q", ErrNoGateway, m.cfg.Gateway)
		}
	} else {
		ip, err := gateway.DiscoverGateway()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoGateway, err)
		}
		gw = ip
	}
	m.client = natpmp.NewClientWithTimeout(gw, 2*time.Second)
	return nil
}

// Start 映射 addrs 中的 TCP 端口并按租期的一半续租
//
// 只要有一个端口映射成功就返回 nil。
func (m *Mapper) Start(addrs []ma.Multiaddr) error {
	if err := m.connect(); err != nil {
		return err
	}
	ext, err := m.client.GetExternalAddress()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoGateway, err)
	}
	ip := net.IP(ext.ExternalIPAddress[:])

	var maps []*mapping
	for _, a := range addrs {
		portStr, err := a.ValueForProtocol(ma.P_TCP)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port == 0 {
			continue
		}
		_, wsErr := a.ValueForProtocol(ma.P_WS)
		maps = append(maps, &mapping{internal: a, port: port, ws: wsErr == nil})
	}

	m.mu.Lock()
	m.externalIP = ip
	m.mappings = maps
	m.mu.Unlock()

	if m.renew() == 0 && len(maps) > 0 {
		return ErrMappingFailed
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.renewLoop(ctx)
	return nil
}

// renew 为所有映射续租，返回成功数
func (m *Mapper) renew() int {
	lifetime := int(m.cfg.MappingLifetime.Std().Seconds())
	ok := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		want := mp.extPort
		if want == 0 {
			want = mp.port
		}
		res, err := m.client.AddPortMapping("tcp", mp.port, want, lifetime)
		if err != nil {
			log.Debug("NAT-PMP 映射失败", "port", mp.port, "error", err)
			mp.extPort = 0
			continue
		}
		if mp.extPort != int(res.MappedExternalPort) {
			log.Info("NAT-PMP 端口映射成功", "internal", mp.port, "external", res.MappedExternalPort, "ip", m.externalIP)
		}
		mp.extPort = int(res.MappedExternalPort)
		ok++
	}
	return ok
}

func (m *Mapper) renewLoop(ctx context.Context) {
	defer close(m.done)
	interval := m.cfg.MappingLifetime.Std() / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renew()
		}
	}
}

// ExternalAddrs 已映射的外部地址
func (m *Mapper) ExternalAddrs() []ma.Multiaddr {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.externalIP == nil {
		return nil
	}
	var out []ma.Multiaddr
	for _, mp := range m.mappings {
		if mp.extPort == 0 {
			continue
		}
		s := fmt.Sprintf("/ip4/%s/tcp/%d", m.externalIP, mp.extPort)
		if mp.ws {
			s += "/ws"
		}
		if a, err := ma.NewMultiaddr(s); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Close 停止续租并删除映射
func (m *Mapper) Close() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.extPort != 0 {
			_, _ = m.client.AddPortMapping("tcp", mp.port, 0, 0)
		}
	}
	m.mappings = nil
	return nil
}
