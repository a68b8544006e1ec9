package lumosp2p

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/nat"
	"github.com/louloulin/lumos.ai-sub002/internal/core/relay"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/memory"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/fetch"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/identify"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("lumosp2p")

// Node lumos 节点
//
// Node 是上层（智能体执行器、服务端）与 P2P 网络交互的唯一入口，
// 聚合传输、发现、发布订阅与分布式记忆。节点状态全部挂在这个句柄上，
// 同一进程内可以同时运行多个节点。
//
// 使用示例：
//
//	node, err := lumosp2p.New(
//	    lumosp2p.WithListenAddrs("/ip4/0.0.0.0/tcp/4001"),
//	    lumosp2p.WithBootstrapPeers("/ip4/1.2.3.4/tcp/4001/p2p/Qm..."),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 内容寻址存储
//	cid, _ := node.StoreContent(ctx, []byte("hello"))
//	data, _ := node.GetContent(ctx, cid)
//
//	// 发布订阅
//	sub, _ := node.Subscribe("agents/events")
//	node.Publish(ctx, "agents/events", []byte("ping"))
//	msg, _ := sub.Next(ctx)
//
//	// 分布式记忆
//	id, _ := node.Memory().Store(ctx, &lumosp2p.MemoryItem{Content: "..."})
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置
	// ────────────────────────────────────────────────────────────────────────

	cfg *config.Config
	app *fx.App

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	swarm    *swarm.Swarm
	dht      *dht.DHT
	relay    *relay.Service
	mapper   *nat.Mapper
	identify *identify.Service
	pubsub   *pubsub.Router
	fetch    *fetch.Service
	memory   *memory.Coordinator
	metrics  *metrics.Metrics
	engine   engine.Engine

	// ────────────────────────────────────────────────────────────────────────
	// 生命周期状态
	// ────────────────────────────────────────────────────────────────────────

	mu        sync.RWMutex
	state     NodeState
	bootstrap dht.BootstrapResult

	// 后台任务（引导后的重新公告）
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New 创建节点
//
// 组装全部组件但不做网络操作；监听与引导在 Start 中进行。
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	if err := o.apply(opts...); err != nil {
		return nil, err
	}

	n := &Node{cfg: o.cfg}
	n.bgCtx, n.bgCancel = context.WithCancel(context.Background())

	app, err := buildFxApp(o, n)
	if err != nil {
		n.bgCancel()
		return nil, err
	}
	n.app = app
	log.Debug("节点已创建", "peer", n.swarm.LocalPeer().ShortString(), "backend", n.memory.Backend().Name())
	return n, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              基础信息
// ════════════════════════════════════════════════════════════════════════════

// ID 本节点 ID
func (n *Node) ID() PeerID {
	return n.swarm.LocalPeer()
}

// Addrs 对外通告的地址（监听地址、端口映射地址）
func (n *Node) Addrs() []Multiaddr {
	return n.swarm.AdvertisedAddrs()
}

// P2PAddrs 带 /p2p/<id> 的完整地址，可直接作为其他节点的种子
func (n *Node) P2PAddrs() []Multiaddr {
	addrs := n.Addrs()
	out := make([]Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		full, err := types.WithP2P(a, n.ID())
		if err != nil {
			continue
		}
		out = append(out, full)
	}
	return out
}

// State 当前状态
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Config 节点配置的副本
func (n *Node) Config() *config.Config {
	return n.cfg.Clone()
}

// Isolated 路由表为空，节点只能处理本地请求
func (n *Node) Isolated() bool {
	return n.dht.Isolated()
}

// BootstrapResult 最近一次引导的结果
func (n *Node) BootstrapResult() dht.BootstrapResult {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bootstrap
}

// Memory 分布式记忆协调器
func (n *Node) Memory() *memory.Coordinator {
	return n.memory
}

// MetricsRegistry 节点私有的 Prometheus 注册表，指标关闭时为 nil
//
// 供外部 HTTP exporter 使用：
//
//	http.Handle("/metrics", promhttp.HandlerFor(node.MetricsRegistry(), promhttp.HandlerOpts{}))
func (n *Node) MetricsRegistry() *prometheus.Registry {
	return n.metrics.Registry()
}

// SetCapability 更新 identify 中通告的能力，已连接的节点会收到推送
func (n *Node) SetCapability(key, value string) {
	n.identify.SetCapability(key, value)
}

// ensureRunning 检查节点是否可用于网络操作
func (n *Node) ensureRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopping, StateClosed:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

// defaultCloseTimeout 关闭时等待各组件停止的上限
const defaultCloseTimeout = 15 * time.Second
