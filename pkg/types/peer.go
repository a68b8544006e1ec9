package types

import (
	"bytes"
	"encoding/hex"
	"math/bits"
	"time"

	"github.com/minio/sha256-simd"
)

// ============================================================================
//                              PeerInfo - 节点信息
// ============================================================================

// PeerInfo 节点信息快照
type PeerInfo struct {
	ID           PeerID
	Addrs        []Multiaddr
	Protocols    []string
	AgentVersion string
	Capabilities map[string]string
	LastSeen     time.Time
	Connected    bool
}

// AddrInfo 从 PeerInfo 中提取 ID 与地址
func (pi PeerInfo) AddrInfo() AddrInfo {
	return AddrInfo{ID: pi.ID, Addrs: pi.Addrs}
}

// AddrInfo 节点 ID 与地址
type AddrInfo struct {
	ID    PeerID
	Addrs []Multiaddr
}

// AddrInfoFromP2PAddr 从 /.../p2p/<id> 地址解析
func AddrInfoFromP2PAddr(addr Multiaddr) (AddrInfo, error) {
	transport, id, err := SplitP2P(addr)
	if err != nil {
		return AddrInfo{}, err
	}
	if id.IsEmpty() {
		return AddrInfo{}, ErrEmptyPeerID
	}
	var addrs []Multiaddr
	if transport != nil && len(transport.Bytes()) > 0 {
		addrs = []Multiaddr{transport}
	}
	return AddrInfo{ID: id, Addrs: addrs}, nil
}

// ============================================================================
//                              ProviderRecord - 提供者记录
// ============================================================================

// ProviderRecord 声明某节点可以提供某内容
type ProviderRecord struct {
	CID      CID
	Provider AddrInfo
	Expiry   time.Time
}

// Expired 在 now 时刻是否过期
func (r ProviderRecord) Expired(now time.Time) bool {
	return !now.Before(r.Expiry)
}

// ============================================================================
//                              DHTKey - 标识空间坐标
// ============================================================================

// DHTKey 256 位标识空间中的坐标
type DHTKey [32]byte

// KeyForPeer 节点在标识空间中的坐标，即 PeerID 摘要本身
func KeyForPeer(id PeerID) DHTKey {
	return DHTKey(id)
}

// KeyForCID 内容在标识空间中的坐标
func KeyForCID(c CID) DHTKey {
	return sha256.Sum256(c.Bytes())
}

// Xor 计算 XOR 距离
func (k DHTKey) Xor(other DHTKey) DHTKey {
	var d DHTKey
	for i := range k {
		d[i] = k[i] ^ other[i]
	}
	return d
}

// Compare 按大端无符号整数比较
func (k DHTKey) Compare(other DHTKey) int {
	return bytes.Compare(k[:], other[:])
}

// CommonPrefixLen 公共前缀位数
func (k DHTKey) CommonPrefixLen(other DHTKey) int {
	for i := range k {
		if x := k[i] ^ other[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return len(k) * 8
}

// String 十六进制表示
func (k DHTKey) String() string {
	return hex.EncodeToString(k[:])
}
