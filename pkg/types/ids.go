// Package types 定义 lumos 网络的基础类型
//
// 这是最底层的包，不依赖任何内部包。所有类型都是值类型，
// 用于在各子系统之间传递数据。
package types

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识，等于 Ed25519 公钥的 SHA-256 摘要
//
// 外部表示是 sha2-256 multihash 的 Base58 编码（"Qm..."），
// 可以直接出现在 /p2p/<PeerID> 地址组件中。
type PeerID [32]byte

// EmptyPeerID 空节点 ID
var EmptyPeerID PeerID

// PeerIDFromDigest 由 32 字节摘要构造 PeerID
func PeerIDFromDigest(digest []byte) (PeerID, error) {
	var id PeerID
	if len(digest) != len(id) {
		return EmptyPeerID, fmt.Errorf("%w: digest length %d", ErrInvalidPeerID, len(digest))
	}
	copy(id[:], digest)
	return id, nil
}

// PeerIDFromMultihash 由 sha2-256 multihash 字节构造 PeerID
func PeerIDFromMultihash(b []byte) (PeerID, error) {
	dec, err := mh.Decode(b)
	if err != nil {
		return EmptyPeerID, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	if dec.Code != mh.SHA2_256 {
		return EmptyPeerID, fmt.Errorf("%w: unsupported hash %s", ErrInvalidPeerID, dec.Name)
	}
	return PeerIDFromDigest(dec.Digest)
}

// ParsePeerID 解析 Base58 形式的 PeerID
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrEmptyPeerID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return PeerIDFromMultihash(b)
}

// Multihash 返回 sha2-256 multihash 编码
func (id PeerID) Multihash() []byte {
	b, _ := mh.Encode(id[:], mh.SHA2_256)
	return b
}

// String 返回 Base58 表示，空 ID 返回空串
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id.Multihash())
}

// ShortString 日志用短标识
//
// 跳过所有 ID 共有的 "Qm" 前缀，取后续 8 个字符。
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 10 {
		return s[2:10]
	}
	return s
}

// Bytes 返回原始摘要
func (id PeerID) Bytes() []byte {
	return id[:]
}

// IsEmpty 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Less 按原始标识字节序比较，用于确定性排序
func (id PeerID) Less(other PeerID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// MarshalText 实现 encoding.TextMarshaler
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *PeerID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = EmptyPeerID
		return nil
	}
	p, err := ParsePeerID(string(b))
	if err != nil {
		return err
	}
	*id = p
	return nil
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议标识，格式 /name/version
type ProtocolID string

// String 返回协议字符串
func (p ProtocolID) String() string {
	return string(p)
}
