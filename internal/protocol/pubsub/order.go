package pubsub

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// maxTrackedPublishers 重排缓冲跟踪的发布者上限
const maxTrackedPublishers = 1024

// pubOrder 单个发布者的重排状态
type pubOrder struct {
	next    uint64
	pending map[uint64]*Message
	timer   *time.Timer
}

// orderBuffer 按发布者序号重排本地投递
//
// 收到的序号等于期望值时立即投递并顺带放出已缓存的后续消息；出现缺口时
// 缓存后续消息，最多等待 holdBack，超时后按序放出并跳过缺口。
// 比期望值小的序号（缺口被跳过后才到达）直接投递。
type orderBuffer struct {
	holdBack time.Duration
	deliver  func(*Message)

	mu     sync.Mutex
	pubs   *lru.Cache[types.PeerID, *pubOrder]
	closed bool
}

func newOrderBuffer(holdBack time.Duration, deliver func(*Message)) *orderBuffer {
	b := &orderBuffer{holdBack: holdBack, deliver: deliver}
	// 被淘汰的发布者放出其缓存，eviction 只在持锁的 Add 中发生
	b.pubs, _ = lru.NewWithEvict(maxTrackedPublishers, func(_ types.PeerID, po *pubOrder) {
		b.release(po)
	})
	return b
}

// push 接收一条已去重的消息
func (b *orderBuffer) push(m *Message) {
	if b.holdBack <= 0 {
		b.deliver(m)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	po, ok := b.pubs.Get(m.From)
	if !ok {
		po = &pubOrder{next: m.Seqno, pending: make(map[uint64]*Message)}
		b.pubs.Add(m.From, po)
	}

	switch {
	case m.Seqno < po.next:
		b.deliver(m)
	case m.Seqno == po.next:
		b.deliver(m)
		po.next++
		b.drain(po)
	default:
		po.pending[m.Seqno] = m
		if po.timer == nil {
			from := m.From
			po.timer = time.AfterFunc(b.holdBack, func() { b.expire(from) })
		}
	}
}

// drain 放出从 next 开始连续的缓存消息
func (b *orderBuffer) drain(po *pubOrder) {
	for {
		m, ok := po.pending[po.next]
		if !ok {
			break
		}
		delete(po.pending, po.next)
		b.deliver(m)
		po.next++
	}
	if len(po.pending) == 0 && po.timer != nil {
		po.timer.Stop()
		po.timer = nil
	}
}

// expire 等待超时，跳过缺口
func (b *orderBuffer) expire(from types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	po, ok := b.pubs.Peek(from)
	if !ok {
		return
	}
	po.timer = nil
	b.release(po)
}

// release 按序放出全部缓存
func (b *orderBuffer) release(po *pubOrder) {
	if po.timer != nil {
		po.timer.Stop()
		po.timer = nil
	}
	if len(po.pending) == 0 {
		return
	}
	seqs := make([]uint64, 0, len(po.pending))
	for s := range po.pending {
		seqs = append(seqs, s)
	}
	slices.Sort(seqs)
	for _, s := range seqs {
		b.deliver(po.pending[s])
		delete(po.pending, s)
	}
	po.next = seqs[len(seqs)-1] + 1
}

// pendingCount 当前缓存的消息数
func (b *orderBuffer) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, k := range b.pubs.Keys() {
		if po, ok := b.pubs.Peek(k); ok {
			n += len(po.pending)
		}
	}
	return n
}

func (b *orderBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, k := range b.pubs.Keys() {
		if po, ok := b.pubs.Peek(k); ok && po.timer != nil {
			po.timer.Stop()
			po.timer = nil
		}
	}
}
