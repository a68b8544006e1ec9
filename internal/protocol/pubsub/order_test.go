package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type collector struct {
	mu   sync.Mutex
	seqs []uint64
}

func (c *collector) deliver(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, m.Seqno)
}

func (c *collector) get() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func msg(from byte, seq uint64) *Message {
	return &Message{From: testPeerID(from), Seqno: seq, Topic: "t"}
}

func TestOrderBuffer_Reorders(t *testing.T) {
	c := &collector{}
	b := newOrderBuffer(time.Minute, c.deliver)
	defer b.close()

	b.push(msg(1, 10))
	b.push(msg(1, 12))
	b.push(msg(1, 13))
	assert.Equal(t, []uint64{10}, c.get())
	assert.Equal(t, 2, b.pendingCount())

	b.push(msg(1, 11))
	assert.Equal(t, []uint64{10, 11, 12, 13}, c.get())
	assert.Zero(t, b.pendingCount())
}

func TestOrderBuffer_GapReleasedAfterHoldBack(t *testing.T) {
	c := &collector{}
	b := newOrderBuffer(30*time.Millisecond, c.deliver)
	defer b.close()

	b.push(msg(1, 1))
	b.push(msg(1, 4))
	b.push(msg(1, 3))
	assert.Equal(t, []uint64{1}, c.get())

	assert.Eventually(t, func() bool {
		return len(c.get()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 3, 4}, c.get())

	// 缺口之后迟到的消息直接投递
	b.push(msg(1, 2))
	b.push(msg(1, 5))
	assert.Equal(t, []uint64{1, 3, 4, 2, 5}, c.get())
}

func TestOrderBuffer_PublishersIndependent(t *testing.T) {
	c := &collector{}
	b := newOrderBuffer(time.Minute, c.deliver)
	defer b.close()

	b.push(msg(1, 5))
	b.push(msg(2, 100))
	b.push(msg(1, 7))
	b.push(msg(2, 101))
	assert.Equal(t, []uint64{5, 100, 101}, c.get())
}

func TestOrderBuffer_ZeroHoldBackPassesThrough(t *testing.T) {
	c := &collector{}
	b := newOrderBuffer(0, c.deliver)
	b.push(msg(1, 3))
	b.push(msg(1, 1))
	assert.Equal(t, []uint64{3, 1}, c.get())
}
