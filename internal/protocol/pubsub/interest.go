package pubsub

import (
	"time"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// wantedFor 计算应向对端 p 公告的兴趣
//
// 本地订阅跳数为 0；其他对端声明的兴趣跳数加一，超过上限的丢弃，
// 同一主题取最小跳数。调用方持有 r.mu。
func (r *Router) wantedFor(p types.PeerID) map[string]int {
	want := make(map[string]int, len(r.subs))
	for t := range r.subs {
		want[t] = 0
	}
	for q, qs := range r.peers {
		if q == p {
			continue
		}
		for t, h := range qs.topics {
			hops := h + 1
			if hops > maxInterestHops {
				continue
			}
			if cur, ok := want[t]; !ok || hops < cur {
				want[t] = hops
			}
		}
	}
	return want
}

// syncInterestLocked 把兴趣差异发给对端
//
// full=false 只发送新增与跳数变小的兴趣；full=true 同时发送撤回与跳数变大。
// 入队失败时不更新已公告状态，下一次同步重试。调用方持有 r.mu。
func (r *Router) syncInterestLocked(ps *peerState, full bool) {
	want := r.wantedFor(ps.id)
	var opts []SubOpt
	for t, h := range want {
		old, ok := ps.announced[t]
		if !ok || h < old || (full && h != old) {
			opts = append(opts, SubOpt{Subscribe: true, Topic: t, Hops: h})
		}
	}
	if full {
		for t := range ps.announced {
			if _, ok := want[t]; !ok {
				opts = append(opts, SubOpt{Subscribe: false, Topic: t})
			}
		}
	}
	if len(opts) == 0 {
		return
	}
	if !r.enqueue(ps, &rpc{Subscriptions: opts}) {
		log.Debug("出站队列已满，推迟兴趣公告", "peer", ps.id.ShortString())
		return
	}
	for _, o := range opts {
		if o.Subscribe {
			ps.announced[o.Topic] = o.Hops
		} else {
			delete(ps.announced, o.Topic)
		}
	}
}

// updateInterest 记录对端声明，并把新增兴趣立即转告其他对端
func (r *Router) updateInterest(from types.PeerID, opts []SubOpt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[from]
	if !ok {
		return
	}
	changed := false
	for _, o := range opts {
		if o.Subscribe {
			if old, had := ps.topics[o.Topic]; !had || old != o.Hops {
				ps.topics[o.Topic] = o.Hops
				changed = true
			}
			continue
		}
		if _, had := ps.topics[o.Topic]; had {
			delete(ps.topics, o.Topic)
			changed = true
		}
	}
	if !changed {
		return
	}
	for id, other := range r.peers {
		if id != from {
			r.syncInterestLocked(other, false)
		}
	}
}

// resetAnnounced 发送失败后清空已公告状态，下一次同步全量重发
func (r *Router) resetAnnounced(ps *peerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(ps.announced)
}

// refreshLoop 周期性全量同步，撤回兴趣在这里传播
func (r *Router) refreshLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.InterestRefresh.Std())
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

func (r *Router) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range r.peers {
		r.syncInterestLocked(ps, true)
	}
}
