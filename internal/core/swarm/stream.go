package swarm

import (
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Stream 已协商协议的流
//
// 实现 net.Conn。Close 是半关闭：发送 FIN 后仍可读取对端剩余数据；
// 需要让阻塞的读立即返回时用 Reset。
type Stream struct {
	raw net.Conn

	protocol types.ProtocolID
	conn     *Conn
	metrics  *metrics.Metrics

	closeOnce sync.Once
}

func newStream(raw net.Conn, proto types.ProtocolID, c *Conn) *Stream {
	c.streamOpened()
	return &Stream{raw: raw, protocol: proto, conn: c, metrics: c.swarm.metrics}
}

// Protocol 协商得到的协议
func (s *Stream) Protocol() types.ProtocolID { return s.protocol }

// RemotePeer 对端节点
func (s *Stream) RemotePeer() types.PeerID { return s.conn.RemotePeer() }

// LocalMultiaddr 所属连接的本地地址
func (s *Stream) LocalMultiaddr() ma.Multiaddr { return s.conn.LocalMultiaddr() }

// RemoteMultiaddr 所属连接的对端地址
func (s *Stream) RemoteMultiaddr() ma.Multiaddr { return s.conn.RemoteMultiaddr() }

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.raw.Read(p)
	if n > 0 {
		s.metrics.StreamTraffic(metrics.DirIn, string(s.protocol), n)
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.raw.Write(p)
	if n > 0 {
		s.metrics.StreamTraffic(metrics.DirOut, string(s.protocol), n)
	}
	return n, err
}

// Close 关闭写方向并释放流
func (s *Stream) Close() error {
	err := s.raw.Close()
	s.closeOnce.Do(s.conn.streamClosed)
	return err
}

// Reset 中断流：阻塞中的读写立即返回错误，随后关闭
func (s *Stream) Reset() error {
	_ = s.raw.SetDeadline(time.Now())
	return s.Close()
}

func (s *Stream) LocalAddr() net.Addr  { return s.raw.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.raw.RemoteAddr() }

func (s *Stream) SetDeadline(t time.Time) error      { return s.raw.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.raw.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.raw.SetWriteDeadline(t) }
