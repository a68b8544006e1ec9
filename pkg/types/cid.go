package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	mbase "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// ============================================================================
//                              CID - 内容标识
// ============================================================================

// CID 内容标识
//
// 固定为 CIDv1 + raw 编解码 + sha2-256，相同字节总是得到相同 CID。
type CID = cid.Cid

// UndefCID 未定义 CID
var UndefCID = cid.Undef

// cidPrefix 所有内容使用的前缀
var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// ComputeCID 计算数据的 CID
func ComputeCID(data []byte) (CID, error) {
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return UndefCID, fmt.Errorf("compute cid: %w", err)
	}
	return c, nil
}

// ParseCID 解析 CID 字符串
//
// 支持 base32（"bafk..."）与 base16（"f0155..."）等 multibase 形式，
// 以及不带 multibase 前缀的 64 位十六进制摘要。CIDv0 与其他编解码的
// sha2-256 CID 按摘要归一为 CIDv1 + raw，与 ComputeCID 的结果可直接比较。
func ParseCID(s string) (CID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UndefCID, fmt.Errorf("%w: empty", ErrInvalidCID)
	}

	if len(s) == 64 {
		if digest, err := hex.DecodeString(s); err == nil {
			return cidFromDigest(digest)
		}
	}

	c, err := cid.Decode(s)
	if err != nil {
		return UndefCID, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	pref := c.Prefix()
	if pref.MhType != mh.SHA2_256 {
		return UndefCID, fmt.Errorf("%w: unsupported hash 0x%x", ErrInvalidCID, pref.MhType)
	}
	if pref.Version == 1 && pref.Codec == cid.Raw {
		return c, nil
	}
	digest, err := CIDDigest(c)
	if err != nil {
		return UndefCID, err
	}
	return cidFromDigest(digest)
}

func cidFromDigest(digest []byte) (CID, error) {
	m, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return UndefCID, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return cid.NewCidV1(cid.Raw, m), nil
}

// CIDDigest 返回 CID 底层的 32 字节摘要
func CIDDigest(c CID) ([]byte, error) {
	dec, err := mh.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return dec.Digest, nil
}

// CIDHex 返回摘要的十六进制表示（固定 64 字符）
func CIDHex(c CID) string {
	digest, err := CIDDigest(c)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(digest)
}

// CIDBase16 返回 base16 multibase 表示
func CIDBase16(c CID) string {
	s, err := c.StringOfBase(mbase.Base16)
	if err != nil {
		return ""
	}
	return s
}

// VerifyCID 校验数据与 CID 是否一致
func VerifyCID(c CID, data []byte) error {
	if !c.Defined() {
		return fmt.Errorf("%w: undefined", ErrInvalidCID)
	}
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("verify cid: %w", err)
	}
	if !got.Equals(c) {
		return fmt.Errorf("%w: want %s, got %s", ErrInconsistent, c, got)
	}
	return nil
}

// CIDFromBytes 从二进制形式解析 CID
func CIDFromBytes(b []byte) (CID, error) {
	c, err := cid.Cast(b)
	if err != nil {
		return UndefCID, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return c, nil
}
