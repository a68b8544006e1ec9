// Package yamux 基于 hashicorp/yamux 的流多路复用
package yamux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hashicorp/yamux"

	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
)

// ID 多路复用协议标识
const ID = protocolids.Yamux

// ErrSessionClosed 会话已关闭
var ErrSessionClosed = errors.New("muxer session closed")

// Session 一条安全连接上的多路复用会话
type Session struct {
	session  *yamux.Session
	isServer bool
}

// NewSession 在 conn 上创建会话，cfg 为 nil 时使用默认配置
func NewSession(conn io.ReadWriteCloser, isServer bool, cfg *yamux.Config) (*Session, error) {
	if conn == nil {
		return nil, errors.New("nil connection")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var s *yamux.Session
	var err error
	if isServer {
		s, err = yamux.Server(conn, cfg)
	} else {
		s, err = yamux.Client(conn, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create yamux session: %w", err)
	}
	return &Session{session: s, isServer: isServer}, nil
}

// OpenStream 打开出站流，遵守 ctx 取消
func (s *Session) OpenStream(ctx context.Context) (net.Conn, error) {
	if s.IsClosed() {
		return nil, ErrSessionClosed
	}

	type result struct {
		stream *yamux.Stream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := s.session.OpenStream()
		ch <- result{st, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open stream: %w", r.err)
		}
		return r.stream, nil
	case <-ctx.Done():
		// 迟到的流直接关闭
		go func() {
			if r := <-ch; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// AcceptStream 阻塞等待入站流
func (s *Session) AcceptStream() (net.Conn, error) {
	st, err := s.session.AcceptStream()
	if err != nil {
		if s.IsClosed() {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return st, nil
}

// NumStreams 当前活跃流数量
func (s *Session) NumStreams() int { return s.session.NumStreams() }

// IsClosed 会话是否已关闭
func (s *Session) IsClosed() bool { return s.session.IsClosed() }

// CloseChan 会话关闭时关闭的通道
func (s *Session) CloseChan() <-chan struct{} { return s.session.CloseChan() }

// IsServer 是否为服务端
func (s *Session) IsServer() bool { return s.isServer }

// Close 关闭会话及其所有流
func (s *Session) Close() error { return s.session.Close() }
