package dht

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType DHT 消息类型
type MessageType string

const (
	// MessagePing 探活
	MessagePing MessageType = "PING"
	// MessageFindNode 查找距 Key 最近的节点
	MessageFindNode MessageType = "FIND_NODE"
	// MessageAddProvider 登记发送方为 Key 的提供者
	MessageAddProvider MessageType = "ADD_PROVIDER"
	// MessageGetProviders 查询 Key 的提供者
	MessageGetProviders MessageType = "GET_PROVIDERS"
)

// maxMessageSize 单条消息上限
const maxMessageSize = 1 << 20

// 远端错误
const (
	errRateLimited    = "rate limited"
	errSenderMismatch = "sender mismatch"
	errBadKey         = "bad key"
	errUnknownType    = "unknown message type"
)

var (
	// ErrRemote 对端返回错误
	ErrRemote = errors.New("dht: remote error")

	// ErrInvalidKey 无法解析的 Key
	ErrInvalidKey = errors.New("dht: invalid key")
)

// PeerRecord 消息中的节点
type PeerRecord struct {
	ID    types.PeerID `json:"id"`
	Addrs []string     `json:"addrs,omitempty"`
}

// Message DHT 请求与响应
//
// FIND_NODE 的 Key 为十六进制 DHTKey，提供者消息的 Key 为 CID 字符串。
type Message struct {
	Type        MessageType  `json:"type"`
	Sender      types.PeerID `json:"sender"`
	SenderAddrs []string     `json:"sender_addrs,omitempty"`
	Key         string       `json:"key,omitempty"`
	CloserPeers []PeerRecord `json:"closer_peers,omitempty"`
	Providers   []PeerRecord `json:"providers,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func writeMessage(w io.Writer, m *Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return msgio.WriteFixedFrame(w, b)
}

func readMessage(r io.Reader) (*Message, error) {
	b, err := msgio.ReadFixedFrame(r, maxMessageSize)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode dht message: %w", err)
	}
	return m, nil
}

// ============================================================================
//                              转换
// ============================================================================

func toRecord(ai types.AddrInfo) PeerRecord {
	return PeerRecord{ID: ai.ID, Addrs: types.AddrStrings(ai.Addrs)}
}

// AddrInfo 解析地址，忽略无法解析的条目
func (r PeerRecord) AddrInfo() types.AddrInfo {
	ai := types.AddrInfo{ID: r.ID}
	for _, s := range r.Addrs {
		a, err := types.ParseMultiaddr(s)
		if err != nil {
			continue
		}
		ai.Addrs = append(ai.Addrs, a)
	}
	return ai
}

func parseKey(s string) (types.DHTKey, error) {
	var k types.DHTKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	copy(k[:], b)
	return k, nil
}
