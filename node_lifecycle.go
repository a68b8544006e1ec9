package lumosp2p

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/memory"
)

// startTimeout 启动组件（不含引导）的超时
const startTimeout = 30 * time.Second

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 分三步：
//  1. 启动 Fx App：打开存储、开始监听、启动各协议
//  2. 引导：拨号种子节点并做自查找；种子全部不可达时以隔离模式继续
//  3. 入网成功后在后台重新公告本地已有的全部内容
//
// 隔离模式下本地存取照常可用，其他节点连入后自动进入路由表。
// 节点只能启动一次。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case StateIdle:
	case StateStopping, StateClosed:
		n.mu.Unlock()
		return ErrNodeClosed
	default:
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.state = StateStarting
	n.mu.Unlock()

	// ════════════════════════════════════════════════════════════════════════
	// Phase 1: 启动组件
	// ════════════════════════════════════════════════════════════════════════
	log.Info("正在启动节点", "peer", n.ID().ShortString())

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	err := n.app.Start(startCtx)
	cancel()
	if err != nil {
		// fx 已回滚启动成功的组件，节点不可再用
		n.setState(StateClosed)
		n.bgCancel()
		log.Error("节点启动失败", "error", err)
		return fmt.Errorf("start failed: %w", err)
	}
	log.Info("监听地址就绪", "addrs", n.Addrs())

	// ════════════════════════════════════════════════════════════════════════
	// Phase 2: 引导
	// ════════════════════════════════════════════════════════════════════════
	seeds, err := dht.ParseSeeds(n.cfg.Discovery.BootstrapPeers)
	if err != nil {
		// 地址在 New 时已校验过
		return n.abortStart(fmt.Errorf("parse bootstrap peers: %w", err))
	}
	res, err := n.dht.Bootstrap(ctx, seeds)
	if err != nil {
		return n.abortStart(fmt.Errorf("bootstrap: %w", err))
	}

	n.mu.Lock()
	n.bootstrap = res
	n.state = StateRunning
	n.mu.Unlock()

	// ════════════════════════════════════════════════════════════════════════
	// Phase 3: 重新公告
	// ════════════════════════════════════════════════════════════════════════
	if !res.Isolated {
		n.reprovideInBackground()
	}

	log.Info("节点已启动",
		"peer", n.ID().ShortString(),
		"seeds", res.Seeds,
		"connected", res.Connected,
		"isolated", res.Isolated)
	return nil
}

// abortStart 引导阶段失败（通常是 ctx 被取消）时停止已启动的组件
func (n *Node) abortStart(cause error) error {
	n.setState(StateStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	n.bgCancel()
	err := multierr.Append(cause, n.app.Stop(stopCtx))
	n.setState(StateClosed)
	log.Error("节点启动中止", "error", err)
	return err
}

// reprovideInBackground 把启动前已存在的内容重新公告到网络
func (n *Node) reprovideInBackground() {
	peer, ok := n.memory.Backend().(*memory.PeerBackedBackend)
	if !ok {
		return
	}
	n.bgWG.Add(1)
	go func() {
		defer n.bgWG.Done()
		count, err := peer.Reprovide(n.bgCtx)
		if err != nil && n.bgCtx.Err() == nil {
			log.Warn("启动后重新公告失败", "error", err)
			return
		}
		log.Debug("启动后重新公告完成", "provided", count)
	}()
}

// Close 关闭节点
//
// 逆序停止所有组件并合并各组件的关闭错误。重复调用返回 nil。
func (n *Node) Close() error {
	n.mu.Lock()
	prev := n.state
	if prev == StateStopping || prev == StateClosed {
		n.mu.Unlock()
		return nil
	}
	n.state = StateStopping
	n.mu.Unlock()

	log.Info("正在关闭节点", "peer", n.ID().ShortString())
	n.bgCancel()
	n.bgWG.Wait()

	var err error
	if prev == StateIdle {
		err = n.releaseUnstarted()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		err = multierr.Append(err, n.app.Stop(ctx))
		cancel()
	}

	n.setState(StateClosed)
	if err != nil {
		log.Warn("节点关闭时出现错误", "error", err)
		return err
	}
	log.Info("节点已关闭")
	return nil
}

// releaseUnstarted 从未启动时 fx 钩子不会执行，逐个释放构造时打开的资源
func (n *Node) releaseUnstarted() error {
	err := multierr.Combine(
		n.memory.Close(),
		n.fetch.Close(),
		n.pubsub.Close(),
		n.identify.Close(),
		n.dht.Close(),
	)
	if n.relay != nil && n.relay.Server != nil {
		err = multierr.Append(err, n.relay.Server.Close())
	}
	if n.relay != nil && n.relay.Client != nil {
		err = multierr.Append(err, n.relay.Client.Close())
	}
	return multierr.Combine(err, n.swarm.Close(), n.engine.Close())
}

func (n *Node) setState(s NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}
