// Package transport 定义原始连接传输的抽象
//
// 传输只负责建立未加密的字节流连接，安全握手与多路复用由 upgrader 完成。
// 具体实现见 tcp 与 websocket 子包。
package transport

import (
	"context"
	"errors"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

var (
	// ErrNoTransport 没有可以处理该地址的传输
	ErrNoTransport = errors.New("no transport for address")

	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport closed")
)

// Conn 带多地址信息的原始连接
type Conn interface {
	net.Conn
	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr
}

// Listener 原始连接监听器
type Listener interface {
	Accept() (Conn, error)
	Multiaddr() ma.Multiaddr
	Close() error
}

// Transport 原始连接传输
type Transport interface {
	// Name 传输名称，用于日志与指标
	Name() string

	// CanDial 是否能拨号或监听该地址
	CanDial(addr ma.Multiaddr) bool

	Dial(ctx context.Context, addr ma.Multiaddr) (Conn, error)
	Listen(addr ma.Multiaddr) (Listener, error)
	Close() error
}

// Select 返回第一个能处理 addr 的传输
func Select(ts []Transport, addr ma.Multiaddr) (Transport, error) {
	for _, t := range ts {
		if t.CanDial(addr) {
			return t, nil
		}
	}
	return nil, ErrNoTransport
}

// Codes 返回地址中各协议的代码序列
func Codes(addr ma.Multiaddr) []int {
	protos := addr.Protocols()
	codes := make([]int, len(protos))
	for i, p := range protos {
		codes[i] = p.Code
	}
	return codes
}

// IsIPOrDNS 是否为网络层协议代码
func IsIPOrDNS(code int) bool {
	switch code {
	case ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
		return true
	}
	return false
}
