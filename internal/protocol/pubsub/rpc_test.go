package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func testPeerID(b byte) types.PeerID {
	var id types.PeerID
	id[0] = b
	id[31] = 1
	return id
}

func TestRPC_Roundtrip(t *testing.T) {
	in := &rpc{
		Subscriptions: []SubOpt{
			{Subscribe: true, Topic: "a"},
			{Subscribe: true, Topic: "b", Hops: 3},
			{Subscribe: false, Topic: "c"},
		},
		Messages: []*Message{
			{From: testPeerID(7), Seqno: 42, Topic: "a", Data: []byte("hello")},
			{From: testPeerID(8), Seqno: 1, Topic: "b", Data: []byte{}},
		},
	}
	out, err := unmarshalRPC(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in.Subscriptions, out.Subscriptions)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, testPeerID(7), out.Messages[0].From)
	assert.Equal(t, uint64(42), out.Messages[0].Seqno)
	assert.Equal(t, []byte("hello"), out.Messages[0].Data)
	assert.Empty(t, out.Messages[1].Data)
}

func TestRPC_SkipsUnknownFields(t *testing.T) {
	b := (&rpc{Subscriptions: []SubOpt{{Subscribe: true, Topic: "x"}}}).marshal()
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	out, err := unmarshalRPC(b)
	require.NoError(t, err)
	assert.Len(t, out.Subscriptions, 1)
}

func TestRPC_Rejects(t *testing.T) {
	_, err := unmarshalRPC([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidRPC)

	// 发布者长度错误
	var mb []byte
	mb = protowire.AppendTag(mb, fieldMsgFrom, protowire.BytesType)
	mb = protowire.AppendBytes(mb, []byte{1, 2, 3})
	mb = protowire.AppendTag(mb, fieldMsgTopic, protowire.BytesType)
	mb = protowire.AppendString(mb, "t")
	var b []byte
	b = protowire.AppendTag(b, fieldRPCMessage, protowire.BytesType)
	b = protowire.AppendBytes(b, mb)
	_, err = unmarshalRPC(b)
	assert.ErrorIs(t, err, ErrInvalidRPC)

	_, err = unmarshalRPC((&rpc{Subscriptions: []SubOpt{{Subscribe: true}}}).marshal())
	assert.ErrorIs(t, err, ErrInvalidRPC)
}

func TestRPC_HopsClamped(t *testing.T) {
	out, err := unmarshalRPC((&rpc{Subscriptions: []SubOpt{{Subscribe: true, Topic: "t", Hops: 1000}}}).marshal())
	require.NoError(t, err)
	assert.Equal(t, maxInterestHops+1, out.Subscriptions[0].Hops)
}
