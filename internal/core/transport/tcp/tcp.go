// Package tcp TCP 传输
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
)

// keepAlivePeriod TCP 保活间隔
const keepAlivePeriod = 30 * time.Second

// Transport TCP 传输
type Transport struct {
	dialer manet.Dialer

	mu        sync.Mutex
	listeners map[*listener]struct{}
	closed    atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// New 创建 TCP 传输
func New() *Transport {
	return &Transport{
		dialer:    manet.Dialer{Dialer: net.Dialer{KeepAlive: keepAlivePeriod}},
		listeners: make(map[*listener]struct{}),
	}
}

// Name 返回 "tcp"
func (t *Transport) Name() string { return "tcp" }

// CanDial 仅接受 /ip|dns/.../tcp/N
func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	codes := transport.Codes(addr)
	return len(codes) == 2 && transport.IsIPOrDNS(codes[0]) && codes[1] == ma.P_TCP
}

// Dial 建立 TCP 连接
func (t *Transport) Dial(ctx context.Context, addr ma.Multiaddr) (transport.Conn, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	c, err := t.dialer.DialContext(ctx, addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(interface{ SetNoDelay(bool) error }); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}

// Listen 监听 TCP 地址，端口 0 由系统分配
func (t *Transport) Listen(addr ma.Multiaddr) (transport.Listener, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	l, err := manet.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	tl := &listener{Listener: l, owner: t}
	t.mu.Lock()
	t.listeners[tl] = struct{}{}
	t.mu.Unlock()
	return tl, nil
}

// Close 关闭所有监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	ls := make([]*listener, 0, len(t.listeners))
	for l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	var firstErr error
	for _, l := range ls {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type listener struct {
	manet.Listener
	owner *Transport
	once  sync.Once
}

func (l *listener) Accept() (transport.Conn, error) {
	return l.Listener.Accept()
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.listeners, l)
		l.owner.mu.Unlock()
		err = l.Listener.Close()
	})
	return err
}
