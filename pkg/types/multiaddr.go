package types

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"
)

// ============================================================================
//                              Multiaddr - 网络地址
// ============================================================================

// Multiaddr 自描述网络地址
type Multiaddr = ma.Multiaddr

// ParseMultiaddr 解析地址字符串
//
// 解析结果的 String() 与规范输入逐字节一致。
func ParseMultiaddr(s string) (Multiaddr, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidMultiaddr, s, err)
	}
	return addr, nil
}

// ParseMultiaddrs 批量解析
func ParseMultiaddrs(ss []string) ([]Multiaddr, error) {
	out := make([]Multiaddr, 0, len(ss))
	for _, s := range ss {
		a, err := ParseMultiaddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SplitP2P 拆分末尾的 /p2p/<id> 组件
//
// 地址不含 /p2p 时返回原地址和空 PeerID。
func SplitP2P(addr Multiaddr) (Multiaddr, PeerID, error) {
	if addr == nil {
		return nil, EmptyPeerID, ErrInvalidMultiaddr
	}
	rest, last := ma.SplitLast(addr)
	if last == nil || last.Protocol().Code != ma.P_P2P {
		return addr, EmptyPeerID, nil
	}
	id, err := PeerIDFromMultihash(last.RawValue())
	if err != nil {
		return nil, EmptyPeerID, err
	}
	return rest, id, nil
}

// WithP2P 在传输地址后追加 /p2p/<id>
func WithP2P(addr Multiaddr, id PeerID) (Multiaddr, error) {
	if id.IsEmpty() {
		return addr, nil
	}
	comp, err := ma.NewComponent("p2p", id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiaddr, err)
	}
	if addr == nil {
		return comp, nil
	}
	return addr.Encapsulate(comp), nil
}

// IsRelayAddr 是否为中继电路地址
func IsRelayAddr(addr Multiaddr) bool {
	if addr == nil {
		return false
	}
	_, err := addr.ValueForProtocol(ma.P_CIRCUIT)
	return err == nil
}

// UniqueAddrs 去重，保持顺序
func UniqueAddrs(addrs []Multiaddr) []Multiaddr {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		k := string(a.Bytes())
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

// AddrStrings 转为字符串切片
func AddrStrings(addrs []Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
