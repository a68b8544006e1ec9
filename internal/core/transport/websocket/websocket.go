// Package websocket WebSocket 传输（/ws 地址）
//
// 每个 websocket 连接被适配为字节流，之后与 TCP 连接走相同的升级流程。
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

var log = logger.Logger("core.transport.ws")

// wsComponent /ws 地址组件
var wsComponent = ma.StringCast("/ws")

// Transport WebSocket 传输
type Transport struct {
	dialer   *ws.Dialer
	upgrader ws.Upgrader

	mu        sync.Mutex
	listeners map[*listener]struct{}
	closed    atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// New 创建 WebSocket 传输
func New() *Transport {
	return &Transport{
		dialer: &ws.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		upgrader: ws.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// 对端身份由安全握手验证，不依赖 Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		listeners: make(map[*listener]struct{}),
	}
}

// Name 返回 "ws"
func (t *Transport) Name() string { return "ws" }

// CanDial 接受 /ip|dns/.../tcp/N/ws
func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	codes := transport.Codes(addr)
	return len(codes) == 3 && transport.IsIPOrDNS(codes[0]) && codes[1] == ma.P_TCP && codes[2] == ma.P_WS
}

// Dial 建立 websocket 连接
func (t *Transport) Dial(ctx context.Context, addr ma.Multiaddr) (transport.Conn, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	tcpAddr, _ := ma.SplitLast(addr)
	_, host, err := manet.DialArgs(tcpAddr)
	if err != nil {
		return nil, err
	}

	c, resp, err := t.dialer.DialContext(ctx, "ws://"+host+"/", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	local, _ := manet.FromNetAddr(c.LocalAddr())
	if local != nil {
		local = local.Encapsulate(wsComponent)
	}
	return newConn(c, local, addr), nil
}

// Listen 在 TCP 端口上启动 HTTP 服务并升级请求
func (t *Transport) Listen(addr ma.Multiaddr) (transport.Listener, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	tcpAddr, _ := ma.SplitLast(addr)
	nl, err := manet.Listen(tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &listener{
		owner:    t,
		netLn:    nl,
		laddr:    nl.Multiaddr().Encapsulate(wsComponent),
		incoming: make(chan transport.Conn, 16),
		done:     make(chan struct{}),
	}
	l.server = &http.Server{Handler: l, ReadHeaderTimeout: 10 * time.Second}

	t.mu.Lock()
	t.listeners[l] = struct{}{}
	t.mu.Unlock()

	go func() {
		if err := l.server.Serve(manet.NetListener(nl)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Debug("websocket 服务退出", "addr", l.laddr, "error", err)
		}
	}()
	return l, nil
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
	for _, l := range ls {
		_ = l.Close()
	}
	return nil
}

type listener struct {
	owner    *Transport
	netLn    manet.Listener
	laddr    ma.Multiaddr
	server   *http.Server
	incoming chan transport.Conn
	done     chan struct{}
	once     sync.Once
}

func (l *listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := l.owner.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	remote, err := manet.FromNetAddr(c.RemoteAddr())
	if err != nil {
		c.Close()
		return
	}
	conn := newConn(c, l.laddr, remote.Encapsulate(wsComponent))

	select {
	case l.incoming <- conn:
	case <-l.done:
		conn.Close()
	}
}

func (l *listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Multiaddr() ma.Multiaddr { return l.laddr }

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.owner.mu.Lock()
		delete(l.owner.listeners, l)
		l.owner.mu.Unlock()
		err = l.server.Close()
	})
	return err
}
