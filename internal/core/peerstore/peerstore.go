package peerstore

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// addrEntry 单个地址及其拨号记录
type addrEntry struct {
	addr        types.Multiaddr
	failures    int
	lastSuccess time.Time
}

// entry 单个节点的记录
type entry struct {
	addrs        []*addrEntry
	protocols    []string
	agentVersion string
	capabilities map[string]string
	created      time.Time
	lastSeen     time.Time
	connected    bool
	penalty      int
}

// Peerstore 节点表
type Peerstore struct {
	mu    sync.RWMutex
	peers map[types.PeerID]*entry

	clock           clock.Clock
	maxDialFailures int
}

// New 创建节点表
func New(clk clock.Clock, maxDialFailures int) *Peerstore {
	if clk == nil {
		clk = clock.New()
	}
	if maxDialFailures <= 0 {
		maxDialFailures = 3
	}
	return &Peerstore{
		peers:           make(map[types.PeerID]*entry),
		clock:           clk,
		maxDialFailures: maxDialFailures,
	}
}

// getOrCreate 调用方持有写锁
func (ps *Peerstore) getOrCreate(id types.PeerID) *entry {
	e, ok := ps.peers[id]
	if !ok {
		e = &entry{created: ps.clock.Now()}
		ps.peers[id] = e
	}
	return e
}

// AddAddrs 追加地址，已存在的地址保留其拨号记录
func (ps *Peerstore) AddAddrs(id types.PeerID, addrs ...types.Multiaddr) {
	if id.IsEmpty() || len(addrs) == 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e := ps.getOrCreate(id)
	for _, a := range addrs {
		if a == nil || e.findAddr(a) != nil {
			continue
		}
		e.addrs = append(e.addrs, &addrEntry{addr: a})
	}
}

// SetAddrs 替换地址列表
func (ps *Peerstore) SetAddrs(id types.PeerID, addrs []types.Multiaddr) {
	if id.IsEmpty() {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e := ps.getOrCreate(id)
	next := make([]*addrEntry, 0, len(addrs))
	for _, a := range types.UniqueAddrs(addrs) {
		if old := e.findAddr(a); old != nil {
			next = append(next, old)
			continue
		}
		next = append(next, &addrEntry{addr: a})
	}
	e.addrs = next
}

func (e *entry) findAddr(a types.Multiaddr) *addrEntry {
	for _, ae := range e.addrs {
		if ae.addr.Equal(a) {
			return ae
		}
	}
	return nil
}

// Addrs 返回地址，失败次数少的优先
func (ps *Peerstore) Addrs(id types.PeerID) []types.Multiaddr {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	e, ok := ps.peers[id]
	if !ok {
		return nil
	}
	sorted := append([]*addrEntry(nil), e.addrs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].failures < sorted[j].failures
	})
	out := make([]types.Multiaddr, len(sorted))
	for i, ae := range sorted {
		out[i] = ae.addr
	}
	return out
}

// Has 是否已知
func (ps *Peerstore) Has(id types.PeerID) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.peers[id]
	return ok
}

// Get 返回节点信息快照
func (ps *Peerstore) Get(id types.PeerID) (types.PeerInfo, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	e, ok := ps.peers[id]
	if !ok {
		return types.PeerInfo{}, false
	}
	return e.info(id), true
}

func (e *entry) info(id types.PeerID) types.PeerInfo {
	addrs := make([]types.Multiaddr, len(e.addrs))
	for i, ae := range e.addrs {
		addrs[i] = ae.addr
	}
	var caps map[string]string
	if len(e.capabilities) > 0 {
		caps = make(map[string]string, len(e.capabilities))
		for k, v := range e.capabilities {
			caps[k] = v
		}
	}
	return types.PeerInfo{
		ID:           id,
		Addrs:        addrs,
		Protocols:    append([]string(nil), e.protocols...),
		AgentVersion: e.agentVersion,
		Capabilities: caps,
		LastSeen:     e.lastSeen,
		Connected:    e.connected,
	}
}

// Peers 返回所有已知节点 ID，按标识排序
func (ps *Peerstore) Peers() []types.PeerID {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]types.PeerID, 0, len(ps.peers))
	for id := range ps.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// PeerInfos 返回所有节点信息
func (ps *Peerstore) PeerInfos() []types.PeerInfo {
	ids := ps.Peers()
	out := make([]types.PeerInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := ps.Get(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Len 节点数
func (ps *Peerstore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// Remove 移除节点
func (ps *Peerstore) Remove(id types.PeerID) {
	ps.mu.Lock()
	delete(ps.peers, id)
	ps.mu.Unlock()
}

// MarkSeen 更新最后见到时间
func (ps *Peerstore) MarkSeen(id types.PeerID) {
	if id.IsEmpty() {
		return
	}
	ps.mu.Lock()
	ps.getOrCreate(id).lastSeen = ps.clock.Now()
	ps.mu.Unlock()
}

// SetConnected 标记连接状态
func (ps *Peerstore) SetConnected(id types.PeerID, connected bool) {
	if id.IsEmpty() {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e := ps.getOrCreate(id)
	e.connected = connected
	e.lastSeen = ps.clock.Now()
}

// RecordDialSuccess 拨号成功，清零该地址的失败计数
func (ps *Peerstore) RecordDialSuccess(id types.PeerID, addr types.Multiaddr) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e := ps.getOrCreate(id)
	now := ps.clock.Now()
	e.lastSeen = now
	if addr == nil {
		return
	}
	ae := e.findAddr(addr)
	if ae == nil {
		ae = &addrEntry{addr: addr}
		e.addrs = append(e.addrs, ae)
	}
	ae.failures = 0
	ae.lastSuccess = now
}

// RecordDialFailure 记录一次地址拨号失败
//
// 所有已知地址都达到失败上限时移除该节点，返回 true。
func (ps *Peerstore) RecordDialFailure(id types.PeerID, addr types.Multiaddr) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e, ok := ps.peers[id]
	if !ok {
		return false
	}
	if addr != nil {
		if ae := e.findAddr(addr); ae != nil {
			ae.failures++
		}
	}
	if e.connected || len(e.addrs) == 0 {
		return false
	}
	for _, ae := range e.addrs {
		if ae.failures < ps.maxDialFailures {
			return false
		}
	}
	delete(ps.peers, id)
	return true
}

// Penalize 降低节点优先级（例如提供了与 CID 不符的内容）
func (ps *Peerstore) Penalize(id types.PeerID) {
	ps.mu.Lock()
	ps.getOrCreate(id).penalty++
	ps.mu.Unlock()
}

// Penalty 返回累计惩罚
func (ps *Peerstore) Penalty(id types.PeerID) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if e, ok := ps.peers[id]; ok {
		return e.penalty
	}
	return 0
}

// SetMeta 记录 identify 交换的信息
func (ps *Peerstore) SetMeta(id types.PeerID, protocols []string, agentVersion string, caps map[string]string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	e := ps.getOrCreate(id)
	e.protocols = append([]string(nil), protocols...)
	e.agentVersion = agentVersion
	e.capabilities = make(map[string]string, len(caps))
	for k, v := range caps {
		e.capabilities[k] = v
	}
}

// PeersWithCapability 返回声明了指定能力的节点
func (ps *Peerstore) PeersWithCapability(key, value string) []types.PeerID {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var out []types.PeerID
	for id, e := range ps.peers {
		if v, ok := e.capabilities[key]; ok && v == value {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Sweep 清理超过 maxAge 未见且未连接的节点，返回清理数量
func (ps *Peerstore) Sweep(maxAge time.Duration) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	cutoff := ps.clock.Now().Add(-maxAge)
	removed := 0
	for id, e := range ps.peers {
		if e.connected {
			continue
		}
		last := e.lastSeen
		if last.IsZero() {
			last = e.created
		}
		if last.Before(cutoff) {
			delete(ps.peers, id)
			removed++
		}
	}
	return removed
}
