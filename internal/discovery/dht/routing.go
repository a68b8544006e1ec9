package dht

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ============================================================================
//                              路由表
// ============================================================================

// numBuckets 标识空间位数
const numBuckets = 256

// maxNodeFailures 连续失败多少次后移出路由表
const maxNodeFailures = 2

// RoutingNode 路由表条目
type RoutingNode struct {
	ID       types.PeerID
	Key      types.DHTKey
	LastSeen time.Time

	failures int
}

// kBucket 单个桶，头部为最近活跃的节点
type kBucket struct {
	nodes        []*RoutingNode
	replacements []*RoutingNode
}

func (b *kBucket) find(id types.PeerID) int {
	return slices.IndexFunc(b.nodes, func(n *RoutingNode) bool { return n.ID == id })
}

// RoutingTable Kademlia 路由表
//
// 桶满时新节点进入替换缓存，桶内节点被移除时由最近见到的替换节点补位。
type RoutingTable struct {
	self  types.PeerID
	local types.DHTKey
	k     int
	clock clock.Clock

	mu      sync.RWMutex
	buckets [numBuckets]kBucket
}

// NewRoutingTable 创建路由表
func NewRoutingTable(self types.PeerID, k int, clk clock.Clock) *RoutingTable {
	if clk == nil {
		clk = clock.New()
	}
	return &RoutingTable{
		self:  self,
		local: types.KeyForPeer(self),
		k:     k,
		clock: clk,
	}
}

// BucketIndex 与本地节点的公共前缀位数
func (rt *RoutingTable) BucketIndex(key types.DHTKey) int {
	cpl := rt.local.CommonPrefixLen(key)
	if cpl >= numBuckets {
		return numBuckets - 1
	}
	return cpl
}

// Update 记录节点活跃
//
// 已在表中则移到桶头部；桶未满则加入；桶满则放入替换缓存并返回 false。
func (rt *RoutingTable) Update(id types.PeerID) bool {
	if id.IsEmpty() || id == rt.self {
		return false
	}
	key := types.KeyForPeer(id)
	now := rt.clock.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := &rt.buckets[rt.BucketIndex(key)]
	if i := b.find(id); i >= 0 {
		n := b.nodes[i]
		n.LastSeen = now
		n.failures = 0
		b.nodes = slices.Delete(b.nodes, i, i+1)
		b.nodes = slices.Insert(b.nodes, 0, n)
		return true
	}

	n := &RoutingNode{ID: id, Key: key, LastSeen: now}
	if len(b.nodes) < rt.k {
		b.nodes = slices.Insert(b.nodes, 0, n)
		return true
	}

	b.replacements = slices.DeleteFunc(b.replacements, func(r *RoutingNode) bool { return r.ID == id })
	b.replacements = slices.Insert(b.replacements, 0, n)
	if len(b.replacements) > rt.k {
		b.replacements = b.replacements[:rt.k]
	}
	return false
}

// Remove 移除节点，并用替换缓存补位
func (rt *RoutingTable) Remove(id types.PeerID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.removeLocked(id)
}

func (rt *RoutingTable) removeLocked(id types.PeerID) bool {
	b := &rt.buckets[rt.BucketIndex(types.KeyForPeer(id))]
	i := b.find(id)
	if i < 0 {
		b.replacements = slices.DeleteFunc(b.replacements, func(r *RoutingNode) bool { return r.ID == id })
		return false
	}
	b.nodes = slices.Delete(b.nodes, i, i+1)
	if len(b.replacements) > 0 {
		b.nodes = append(b.nodes, b.replacements[0])
		b.replacements = b.replacements[1:]
	}
	return true
}

// Fail 记录一次请求失败，连续失败达到阈值时移除并返回 true
func (rt *RoutingTable) Fail(id types.PeerID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := &rt.buckets[rt.BucketIndex(types.KeyForPeer(id))]
	i := b.find(id)
	if i < 0 {
		return false
	}
	b.nodes[i].failures++
	if b.nodes[i].failures < maxNodeFailures {
		return false
	}
	return rt.removeLocked(id)
}

// Contains 是否在表中
func (rt *RoutingTable) Contains(id types.PeerID) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[rt.BucketIndex(types.KeyForPeer(id))].find(id) >= 0
}

// Size 表中节点数，不含替换缓存
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for i := range rt.buckets {
		n += len(rt.buckets[i].nodes)
	}
	return n
}

// Peers 表中所有节点
func (rt *RoutingTable) Peers() []types.PeerID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []types.PeerID
	for i := range rt.buckets {
		for _, n := range rt.buckets[i].nodes {
			out = append(out, n.ID)
		}
	}
	return out
}

// NearestPeers 距离 target 最近的 count 个节点，按距离升序
func (rt *RoutingTable) NearestPeers(target types.DHTKey, count int) []types.PeerID {
	peers := rt.Peers()
	sortByDistance(peers, target)
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

// ============================================================================
//                              距离
// ============================================================================

// compareDistance 比较 a、b 到 target 的 XOR 距离
//
// 距离相同时原始标识较小者在前。
func compareDistance(a, b types.PeerID, target types.DHTKey) int {
	da := types.KeyForPeer(a).Xor(target)
	db := types.KeyForPeer(b).Xor(target)
	if c := da.Compare(db); c != 0 {
		return c
	}
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func sortByDistance(peers []types.PeerID, target types.DHTKey) {
	slices.SortFunc(peers, func(a, b types.PeerID) int {
		return compareDistance(a, b, target)
	})
}
