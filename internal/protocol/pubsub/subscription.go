package pubsub

import (
	"context"
	"sync"
)

// Subscription 本地订阅
//
// 消息通过 C() 读取；Cancel 后通道被关闭。
type Subscription struct {
	topic  string
	router *Router
	ch     chan *Message
	done   chan struct{}

	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newSubscription(r *Router, topic string, buffer int) *Subscription {
	return &Subscription{
		topic:  topic,
		router: r,
		ch:     make(chan *Message, buffer),
		done:   make(chan struct{}),
	}
}

// Topic 订阅的主题
func (s *Subscription) Topic() string {
	return s.topic
}

// C 消息通道
func (s *Subscription) C() <-chan *Message {
	return s.ch
}

// Next 阻塞读取下一条消息
func (s *Subscription) Next(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel 取消订阅
//
// 主题没有剩余本地订阅时，撤回兴趣在下一个刷新周期传播。
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.router.removeSubscription(s)
		s.close()
	})
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer 非阻塞投递，缓冲满时返回 false
func (s *Subscription) offer(m *Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

// send 阻塞投递直到 ctx 结束
func (s *Subscription) send(ctx context.Context, m *Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- m:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
