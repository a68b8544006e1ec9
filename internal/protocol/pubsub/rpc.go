package pubsub

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// RPC 字段号
const (
	fieldRPCSubscription protowire.Number = 1
	fieldRPCMessage      protowire.Number = 2

	fieldSubSubscribe protowire.Number = 1
	fieldSubTopic     protowire.Number = 2
	fieldSubHops      protowire.Number = 3

	fieldMsgFrom  protowire.Number = 1
	fieldMsgSeqno protowire.Number = 2
	fieldMsgTopic protowire.Number = 3
	fieldMsgData  protowire.Number = 4
)

// SubOpt 兴趣公告
type SubOpt struct {
	Subscribe bool
	Topic     string
	// Hops 公告方到最近订阅者的跳数，本地订阅为 0
	Hops int
}

// Message 发布的消息
type Message struct {
	From  types.PeerID
	Seqno uint64
	Topic string
	Data  []byte

	// ReceivedFrom 直接送达本节点的对端，本地发布时等于 From
	ReceivedFrom types.PeerID
}

// rpc 一帧的内容
type rpc struct {
	Subscriptions []SubOpt
	Messages      []*Message
}

// msgKey 去重键
type msgKey struct {
	from  types.PeerID
	seqno uint64
}

func (m *Message) key() msgKey {
	return msgKey{from: m.From, seqno: m.Seqno}
}

func (r *rpc) empty() bool {
	return len(r.Subscriptions) == 0 && len(r.Messages) == 0
}

func (r *rpc) marshal() []byte {
	var b []byte
	for _, s := range r.Subscriptions {
		var sb []byte
		if s.Subscribe {
			sb = protowire.AppendTag(sb, fieldSubSubscribe, protowire.VarintType)
			sb = protowire.AppendVarint(sb, 1)
		}
		sb = protowire.AppendTag(sb, fieldSubTopic, protowire.BytesType)
		sb = protowire.AppendString(sb, s.Topic)
		if s.Hops > 0 {
			sb = protowire.AppendTag(sb, fieldSubHops, protowire.VarintType)
			sb = protowire.AppendVarint(sb, uint64(s.Hops))
		}
		b = protowire.AppendTag(b, fieldRPCSubscription, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	for _, m := range r.Messages {
		var mb []byte
		mb = protowire.AppendTag(mb, fieldMsgFrom, protowire.BytesType)
		mb = protowire.AppendBytes(mb, m.From.Bytes())
		mb = protowire.AppendTag(mb, fieldMsgSeqno, protowire.VarintType)
		mb = protowire.AppendVarint(mb, m.Seqno)
		mb = protowire.AppendTag(mb, fieldMsgTopic, protowire.BytesType)
		mb = protowire.AppendString(mb, m.Topic)
		mb = protowire.AppendTag(mb, fieldMsgData, protowire.BytesType)
		mb = protowire.AppendBytes(mb, m.Data)
		b = protowire.AppendTag(b, fieldRPCMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	return b
}

// field 解析出的单个字段
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

// consumeFields 逐个解析字段，未知类型跳过
func consumeFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidRPC, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidRPC, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidRPC, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalRPC(b []byte) (*rpc, error) {
	r := &rpc{}
	err := consumeFields(b, func(f field) error {
		switch f.num {
		case fieldRPCSubscription:
			s, err := unmarshalSubOpt(f.bytes)
			if err != nil {
				return err
			}
			r.Subscriptions = append(r.Subscriptions, s)
		case fieldRPCMessage:
			m, err := unmarshalMessage(f.bytes)
			if err != nil {
				return err
			}
			r.Messages = append(r.Messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalSubOpt(b []byte) (SubOpt, error) {
	var s SubOpt
	err := consumeFields(b, func(f field) error {
		switch f.num {
		case fieldSubSubscribe:
			s.Subscribe = f.varint != 0
		case fieldSubTopic:
			s.Topic = string(f.bytes)
		case fieldSubHops:
			s.Hops = int(min(f.varint, maxInterestHops+1))
		}
		return nil
	})
	if err != nil {
		return SubOpt{}, err
	}
	if s.Topic == "" {
		return SubOpt{}, fmt.Errorf("%w: subscription without topic", ErrInvalidRPC)
	}
	return s, nil
}

func unmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	var from []byte
	err := consumeFields(b, func(f field) error {
		switch f.num {
		case fieldMsgFrom:
			from = f.bytes
		case fieldMsgSeqno:
			m.Seqno = f.varint
		case fieldMsgTopic:
			m.Topic = string(f.bytes)
		case fieldMsgData:
			m.Data = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	id, err := types.PeerIDFromDigest(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRPC, err)
	}
	if m.Topic == "" {
		return nil, fmt.Errorf("%w: message without topic", ErrInvalidRPC)
	}
	m.From = id
	return m, nil
}
