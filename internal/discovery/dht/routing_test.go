package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// rawID 以给定字节为前缀构造 PeerID
func rawID(prefix ...byte) types.PeerID {
	var id types.PeerID
	copy(id[:], prefix)
	id[31] |= 0x01
	return id
}

func TestRoutingTable_BucketIndex(t *testing.T) {
	self := rawID(0x00)
	rt := NewRoutingTable(self, 20, nil)

	assert.Equal(t, 0, rt.BucketIndex(types.KeyForPeer(rawID(0x80))))
	assert.Equal(t, 1, rt.BucketIndex(types.KeyForPeer(rawID(0x40))))
	assert.Equal(t, 7, rt.BucketIndex(types.KeyForPeer(rawID(0x01))))
	assert.Equal(t, numBuckets-1, rt.BucketIndex(types.KeyForPeer(self)))
}

func TestRoutingTable_UpdateAndReplacement(t *testing.T) {
	rt := NewRoutingTable(rawID(0x00), 2, nil)

	a, b, c := rawID(0x80), rawID(0x81), rawID(0x82)
	assert.True(t, rt.Update(a))
	assert.True(t, rt.Update(b))
	assert.False(t, rt.Update(c), "桶已满，进入替换缓存")
	assert.Equal(t, 2, rt.Size())
	assert.False(t, rt.Contains(c))

	assert.False(t, rt.Update(rawID(0x00)), "不能加入自己")
	assert.False(t, rt.Update(types.EmptyPeerID))

	require.True(t, rt.Remove(a))
	assert.True(t, rt.Contains(c), "替换节点补位")
	assert.Equal(t, 2, rt.Size())
}

func TestRoutingTable_FailRemovesAfterThreshold(t *testing.T) {
	rt := NewRoutingTable(rawID(0x00), 20, nil)
	p := rawID(0x40)
	rt.Update(p)

	assert.False(t, rt.Fail(p))
	assert.True(t, rt.Contains(p))
	assert.True(t, rt.Fail(p))
	assert.False(t, rt.Contains(p))

	rt.Update(p)
	rt.Fail(p)
	rt.Update(p)
	assert.False(t, rt.Fail(p), "成功响应后失败计数清零")
}

func TestRoutingTable_NearestPeers(t *testing.T) {
	rt := NewRoutingTable(rawID(0x00), 20, nil)
	ids := []types.PeerID{rawID(0xF0), rawID(0x10), rawID(0x11), rawID(0x80), rawID(0x01)}
	for _, id := range ids {
		rt.Update(id)
	}

	target := types.KeyForPeer(rawID(0x10))
	got := rt.NearestPeers(target, 3)
	assert.Equal(t, []types.PeerID{rawID(0x10), rawID(0x11), rawID(0x01)}, got)
}

func TestCompareDistance(t *testing.T) {
	a, b := rawID(0x01), rawID(0x02)
	target := types.KeyForPeer(rawID(0x03))

	// 0x01^0x03 = 0x02，0x02^0x03 = 0x01
	assert.Equal(t, 1, compareDistance(a, b, target))
	assert.Equal(t, -1, compareDistance(b, a, target))
	assert.Equal(t, 0, compareDistance(a, a, target))

	peers := []types.PeerID{a, b}
	sortByDistance(peers, target)
	assert.Equal(t, []types.PeerID{b, a}, peers)
}
