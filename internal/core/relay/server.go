package relay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("core.relay")

// connectTimeout 中继联系目标节点的超时
const connectTimeout = 10 * time.Second

// Server 中继服务端
type Server struct {
	swarm   *swarm.Swarm
	limiter *Limiter
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建中继服务并注册 hop 协议
func NewServer(sw *swarm.Swarm, cfg config.RelayConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		swarm:   sw,
		limiter: NewLimiter(cfg.CircuitsPerSecond, cfg.CircuitBurst, cfg.MaxCircuits),
		timeout: cfg.CircuitTimeout.Std(),
		ctx:     ctx,
		cancel:  cancel,
	}
	sw.SetStreamHandler(protocolids.RelayHop, s.handleHop)
	return s
}

// ActiveCircuits 当前转发中的电路数
func (s *Server) ActiveCircuits() int { return s.limiter.Active() }

// Close 停止服务并等待所有电路结束
func (s *Server) Close() error {
	s.swarm.RemoveStreamHandler(protocolids.RelayHop)
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) handleHop(src *swarm.Stream) {
	srcPeer := src.RemotePeer()
	_ = src.SetDeadline(time.Now().Add(connectTimeout))

	var req hopRequest
	if err := readMsg(src, &req); err != nil {
		src.Close()
		return
	}
	target, err := types.ParsePeerID(req.Target)
	if err != nil {
		s.refuse(src, StatusMalformed, "bad target")
		return
	}
	if target == srcPeer || target == s.swarm.LocalPeer() {
		s.refuse(src, StatusPermissionDeny, "invalid target")
		return
	}
	if !s.limiter.Allow(srcPeer) {
		log.Debug("中继请求被限速", "src", srcPeer.ShortString())
		s.refuse(src, StatusRateLimited, "")
		return
	}
	if !s.limiter.Acquire() {
		s.refuse(src, StatusResourceLimit, "")
		return
	}

	dst, err := s.connectTarget(srcPeer, target)
	if err != nil {
		s.limiter.Release()
		log.Debug("中继无法联系目标", "target", target.ShortString(), "error", err)
		s.refuse(src, StatusNoRoute, err.Error())
		return
	}
	if err := writeMsg(src, response{Status: StatusOK}); err != nil {
		s.limiter.Release()
		src.Close()
		dst.Close()
		return
	}
	_ = src.SetDeadline(time.Time{})

	log.Debug("中继电路已建立", "src", srcPeer.ShortString(), "dst", target.ShortString())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		s.pipe(src, dst)
	}()
}

// connectTarget 打开到目标的 stop 流并等待确认
func (s *Server) connectTarget(src, target types.PeerID) (*swarm.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()

	dst, err := s.swarm.NewStream(swarm.WithoutRelay(ctx), target, protocolids.RelayStop)
	if err != nil {
		return nil, err
	}
	_ = dst.SetDeadline(time.Now().Add(connectTimeout))
	if err := writeMsg(dst, stopRequest{Source: src.String()}); err != nil {
		dst.Close()
		return nil, err
	}
	var resp response
	if err := readMsg(dst, &resp); err != nil {
		dst.Close()
		return nil, err
	}
	if err := resp.err(); err != nil {
		dst.Close()
		return nil, err
	}
	_ = dst.SetDeadline(time.Time{})
	return dst, nil
}

// pipe 双向转发，电路存活不超过 timeout
func (s *Server) pipe(a, b *swarm.Stream) {
	if s.timeout > 0 {
		deadline := time.Now().Add(s.timeout)
		_ = a.SetDeadline(deadline)
		_ = b.SetDeadline(deadline)
	}

	done := make(chan struct{}, 2)
	forward := func(dst, src *swarm.Stream) {
		_, _ = io.Copy(dst, src)
		// 半关闭，把 EOF 传给另一端
		_ = dst.Close()
		done <- struct{}{}
	}
	go forward(a, b)
	go forward(b, a)

	// 服务关闭时中断两个方向的读取
	stop := context.AfterFunc(s.ctx, func() {
		_ = a.SetDeadline(time.Now())
		_ = b.SetDeadline(time.Now())
	})
	defer stop()

	<-done
	<-done
}

func (s *Server) refuse(st *swarm.Stream, status Status, reason string) {
	_ = writeMsg(st, response{Status: status, Reason: reason})
	st.Close()
}
