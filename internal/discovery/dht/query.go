package dht

import (
	"context"
	"errors"
	"time"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ============================================================================
//                              查找状态
// ============================================================================

// LookupState 迭代查找状态
type LookupState int

const (
	// StateIdle 尚未发出请求
	StateIdle LookupState = iota
	// StateQuerying 正在向更近的节点推进
	StateQuerying
	// StateConverging 最近一次响应没有带来更近的节点
	StateConverging
	// StateDone 候选耗尽或提前满足
	StateDone
	// StateTimedOut 查找超时或被取消
	StateTimedOut
)

// String 返回状态名
func (s LookupState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuerying:
		return "querying"
	case StateConverging:
		return "converging"
	case StateDone:
		return "done"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// LookupStats 一次查找的统计
type LookupStats struct {
	Kind      string
	State     LookupState
	Hops      int
	Queried   int
	Failed    int
	Duration  time.Duration
	Responded []types.PeerID
}

// ============================================================================
//                              迭代查找
// ============================================================================

// queryFunc 向单个节点发请求，返回其给出的更近节点；stop 为 true 时结束查找
type queryFunc func(ctx context.Context, p types.PeerID) (closer []types.PeerID, stop bool, err error)

type peerState int

const (
	peerHeard peerState = iota
	peerWaiting
	peerResponded
	peerFailed
)

type candidate struct {
	state peerState
	depth int
}

type queryResult struct {
	peer   types.PeerID
	closer []types.PeerID
	stop   bool
	err    error
}

// lookup 单次迭代查找
type lookup struct {
	target   types.DHTKey
	k        int
	alpha    int
	maxHops  int
	query    queryFunc
	self     types.PeerID
	peers    map[types.PeerID]*candidate
	order    []types.PeerID
	state    LookupState
	stats    LookupStats
	inflight int
}

func (l *lookup) add(p types.PeerID, depth int) bool {
	if p.IsEmpty() || p == l.self {
		return false
	}
	if _, ok := l.peers[p]; ok {
		return false
	}
	l.peers[p] = &candidate{state: peerHeard, depth: depth}
	l.order = append(l.order, p)
	sortByDistance(l.order, l.target)
	return true
}

// next 在最近的 k 个候选中选出下一个待查询节点
func (l *lookup) next() (types.PeerID, int, bool) {
	considered := 0
	for _, p := range l.order {
		c := l.peers[p]
		if c.state == peerFailed {
			continue
		}
		if considered == l.k {
			break
		}
		considered++
		if c.state == peerHeard && c.depth <= l.maxHops {
			return p, c.depth, true
		}
	}
	return types.EmptyPeerID, 0, false
}

// closest 已响应的最近 k 个节点
func (l *lookup) closest() []types.PeerID {
	out := make([]types.PeerID, 0, l.k)
	for _, p := range l.order {
		if l.peers[p].state == peerResponded {
			out = append(out, p)
			if len(out) == l.k {
				break
			}
		}
	}
	return out
}

func (l *lookup) best() (types.PeerID, bool) {
	for _, p := range l.order {
		if l.peers[p].state != peerFailed {
			return p, true
		}
	}
	return types.EmptyPeerID, false
}

// run 执行查找
//
// 每个种子深度为 1，由深度 d 的节点引入的候选深度为 d+1，深度超过 maxHops 的候选不再查询。
func (l *lookup) run(ctx context.Context, seeds []types.PeerID) []types.PeerID {
	for _, p := range seeds {
		l.add(p, 1)
	}
	if len(l.order) == 0 {
		l.state = StateDone
		return nil
	}
	l.state = StateQuerying

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan queryResult, l.alpha)

	for {
		for ctx.Err() == nil && l.inflight < l.alpha {
			p, depth, ok := l.next()
			if !ok {
				break
			}
			l.peers[p].state = peerWaiting
			l.inflight++
			l.stats.Queried++
			if depth > l.stats.Hops {
				l.stats.Hops = depth
			}
			go func(p types.PeerID) {
				closer, stop, err := l.query(ctx, p)
				results <- queryResult{peer: p, closer: closer, stop: stop, err: err}
			}(p)
		}
		if l.inflight == 0 {
			l.state = StateDone
			if ctx.Err() != nil {
				l.state = StateTimedOut
			}
			return l.closest()
		}

		select {
		case r := <-results:
			l.inflight--
			if l.handle(r) {
				l.state = StateDone
				return l.closest()
			}
		case <-ctx.Done():
			l.state = StateTimedOut
			return l.closest()
		}
	}
}

// handle 处理一个响应，返回 true 表示查找应提前结束
func (l *lookup) handle(r queryResult) bool {
	c := l.peers[r.peer]
	if r.err != nil {
		c.state = peerFailed
		l.stats.Failed++
		if errors.Is(r.err, context.Canceled) {
			return false
		}
		log.Debug("查找请求失败，跳过", "peer", r.peer.ShortString(), "error", r.err)
		return false
	}
	c.state = peerResponded
	l.stats.Responded = append(l.stats.Responded, r.peer)
	if r.stop {
		return true
	}

	before, _ := l.best()
	for _, p := range r.closer {
		l.add(p, c.depth+1)
	}
	after, _ := l.best()
	if after == before && l.state == StateQuerying {
		l.state = StateConverging
	}
	return false
}
