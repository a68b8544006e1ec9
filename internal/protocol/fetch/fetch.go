// Package fetch 按 CID 从指定节点拉取内容
//
// 请求是一个 varint 帧，内容为 CID 的二进制形式；响应是一个状态字节，
// 状态为 OK 时后跟内容帧。客户端校验内容与 CID 一致后才返回。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("protocol.fetch")

// MaxBlockSize 单个内容块上限
const MaxBlockSize = 16 << 20

const (
	maxRequestSize = 256
	serveTimeout   = 30 * time.Second
)

// 响应状态
const (
	statusOK       byte = 0
	statusNotFound byte = 1
	statusError    byte = 2
)

// ErrRemote 对端处理失败
var ErrRemote = errors.New("fetch: remote error")

// Blockstore 服务端读取内容的来源
type Blockstore interface {
	Get(c types.CID) ([]byte, error)
}

// Service 同时提供服务端与客户端
type Service struct {
	swarm   *swarm.Swarm
	store   Blockstore
	metrics *metrics.Metrics
}

// New 创建服务；store 非 nil 时注册服务端处理器
func New(sw *swarm.Swarm, store Blockstore, m *metrics.Metrics) *Service {
	s := &Service{swarm: sw, store: store, metrics: m}
	if store != nil {
		sw.SetStreamHandler(protocolids.Fetch, s.handle)
	}
	return s
}

// Close 注销处理器
func (s *Service) Close() error {
	if s.store != nil {
		s.swarm.RemoveStreamHandler(protocolids.Fetch)
	}
	return nil
}

// Fetch 从 p 拉取 c
//
// 对端没有内容返回 ErrNotFound；内容与 CID 不符返回 ErrInconsistent，
// 数据被丢弃。
func (s *Service) Fetch(ctx context.Context, p types.PeerID, c types.CID) ([]byte, error) {
	st, err := s.swarm.NewStream(ctx, p, protocolids.Fetch)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	stop := context.AfterFunc(ctx, func() { _ = st.SetDeadline(time.Now()) })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}

	if err := msgio.WriteVarintFrame(st, c.Bytes()); err != nil {
		return nil, s.wrap(ctx, err)
	}
	var status [1]byte
	if _, err := io.ReadFull(st, status[:]); err != nil {
		return nil, s.wrap(ctx, err)
	}
	switch status[0] {
	case statusOK:
	case statusNotFound:
		return nil, fmt.Errorf("%w: %s on %s", types.ErrNotFound, c, p.ShortString())
	default:
		return nil, fmt.Errorf("%w: status %d", ErrRemote, status[0])
	}

	data, err := msgio.ReadVarintFrame(st, MaxBlockSize)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	s.metrics.StreamTraffic("in", string(protocolids.Fetch), len(data))
	if err := types.VerifyCID(c, data); err != nil {
		log.Warn("对端返回的内容与 CID 不符", "peer", p.ShortString(), "cid", c.String())
		return nil, err
	}
	return data, nil
}

func (s *Service) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", types.ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %v", types.ErrUnreachable, err)
}

func (s *Service) handle(st *swarm.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(serveTimeout))

	from := st.RemotePeer()
	b, err := msgio.ReadVarintFrame(st, maxRequestSize)
	if err != nil {
		return
	}
	c, err := types.CIDFromBytes(b)
	if err != nil {
		_, _ = st.Write([]byte{statusError})
		return
	}

	data, err := s.store.Get(c)
	switch {
	case errors.Is(err, types.ErrNotFound):
		_, _ = st.Write([]byte{statusNotFound})
		return
	case err != nil:
		log.Warn("读取内容失败", "cid", c.String(), "error", err)
		_, _ = st.Write([]byte{statusError})
		return
	}
	if _, err := st.Write([]byte{statusOK}); err != nil {
		return
	}
	if err := msgio.WriteVarintFrame(st, data); err != nil {
		log.Debug("发送内容失败", "peer", from.ShortString(), "error", err)
		return
	}
	s.metrics.StreamTraffic("out", string(protocolids.Fetch), len(data))
}
