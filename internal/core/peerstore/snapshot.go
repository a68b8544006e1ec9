package peerstore

import (
	"fmt"
	"time"

	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/kv"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// KeyPrefix 节点表快照在引擎中的前缀
const KeyPrefix = "p/"

// record 持久化格式
type record struct {
	Addrs    []string  `json:"addrs"`
	LastSeen time.Time `json:"last_seen"`
}

// Save 将所有带地址的节点写入快照
func (ps *Peerstore) Save(store *kv.Store) (int, error) {
	ps.mu.RLock()
	recs := make(map[types.PeerID]record, len(ps.peers))
	for id, e := range ps.peers {
		if len(e.addrs) == 0 {
			continue
		}
		r := record{LastSeen: e.lastSeen}
		for _, ae := range e.addrs {
			r.Addrs = append(r.Addrs, ae.addr.String())
		}
		recs[id] = r
	}
	ps.mu.RUnlock()

	for id, r := range recs {
		if err := store.PutJSON(id.Bytes(), r); err != nil {
			return 0, fmt.Errorf("save peer %s: %w", id.ShortString(), err)
		}
	}
	return len(recs), nil
}

// Load 从快照恢复地址，跳过损坏的记录
func (ps *Peerstore) Load(store *kv.Store) (int, error) {
	type loadedRec struct {
		id types.PeerID
		r  record
	}
	var recs []loadedRec
	err := store.PrefixScan(nil, func(key, _ []byte) bool {
		id, err := types.PeerIDFromDigest(key)
		if err != nil {
			return true
		}
		var r record
		if err := store.GetJSON(key, &r); err != nil {
			return true
		}
		recs = append(recs, loadedRec{id: id, r: r})
		return true
	})
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, lr := range recs {
		addrs := make([]types.Multiaddr, 0, len(lr.r.Addrs))
		for _, s := range lr.r.Addrs {
			if a, err := types.ParseMultiaddr(s); err == nil {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) == 0 {
			continue
		}
		ps.AddAddrs(lr.id, addrs...)
		ps.mu.Lock()
		if e := ps.peers[lr.id]; e != nil && e.lastSeen.IsZero() {
			e.lastSeen = lr.r.LastSeen
		}
		ps.mu.Unlock()
		loaded++
	}
	return loaded, nil
}
