package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/fetch"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

const (
	// provideTimeout 单次公告超时
	provideTimeout = 30 * time.Second

	// maxProvideBackoff 公告重试退避上限
	maxProvideBackoff = time.Minute

	// provideConcurrency 同时进行的公告数
	provideConcurrency = 8

	// queryConcurrency 同时处理的远端查询数，超出的请求被丢弃
	queryConcurrency = 8
)

// Network 节点侧依赖
type Network struct {
	Swarm  *swarm.Swarm
	DHT    *dht.DHT
	Fetch  *fetch.Service
	PubSub *pubsub.Router
}

// PeerBackedBackend 本地存储之上加入网络能力
//
// 写入后异步公告为提供者，失败按指数退避重试有限次，其余交给周期性的
// 重新公告。本地缺失的内容向提供者拉取并校验，分布式查询经 pubsub
// 广播、直连流回复。
type PeerBackedBackend struct {
	*LocalBackend

	swarm   *swarm.Swarm
	dht     *dht.DHT
	fetch   *fetch.Service
	pubsub  *pubsub.Router
	self    types.PeerID
	cfg     config.MemoryConfig
	metrics *metrics.Metrics
	clock   clock.Clock

	reprovide  time.Duration
	provideSem *semaphore.Weighted
	querySem   *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]chan queryReply
	sub     *pubsub.Subscription
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Backend = (*PeerBackedBackend)(nil)

// PeerOption 选项
type PeerOption func(*PeerBackedBackend)

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) PeerOption {
	return func(b *PeerBackedBackend) { b.metrics = m }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) PeerOption {
	return func(b *PeerBackedBackend) {
		if clk != nil {
			b.clock = clk
		}
	}
}

// NewPeerBackedBackend 创建网络后端，reprovide 为重新公告间隔
func NewPeerBackedBackend(local *LocalBackend, net Network, cfg config.MemoryConfig, reprovide time.Duration, opts ...PeerOption) *PeerBackedBackend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &PeerBackedBackend{
		LocalBackend: local,
		swarm:        net.Swarm,
		dht:          net.DHT,
		fetch:        net.Fetch,
		pubsub:       net.PubSub,
		self:         net.Swarm.LocalPeer(),
		cfg:          cfg,
		clock:        clock.New(),
		reprovide:    reprovide,
		provideSem:   semaphore.NewWeighted(provideConcurrency),
		querySem:     semaphore.NewWeighted(queryConcurrency),
		pending:      make(map[string]chan queryReply),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name 后端名称
func (b *PeerBackedBackend) Name() string { return config.MemoryBackendPeer }

// Start 订阅查询主题、注册回复处理器并启动重新公告
func (b *PeerBackedBackend) Start() error {
	if err := b.startQueries(); err != nil {
		return err
	}
	if b.reprovide > 0 {
		b.wg.Add(1)
		go b.reprovideLoop()
	}
	return nil
}

// Close 停止后台任务并关闭索引
func (b *PeerBackedBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.stopQueries()
	b.wg.Wait()
	return b.LocalBackend.Close()
}

// Save 本地持久化后异步公告
func (b *PeerBackedBackend) Save(ctx context.Context, item *MemoryItem) (types.CID, error) {
	c, err := b.LocalBackend.Save(ctx, item)
	if err != nil {
		return types.UndefCID, err
	}
	b.announce(c)
	return c, nil
}

// PutContent 本地写入后异步公告
func (b *PeerBackedBackend) PutContent(ctx context.Context, data []byte) (types.CID, error) {
	c, err := b.LocalBackend.PutContent(ctx, data)
	if err != nil {
		return types.UndefCID, err
	}
	b.announce(c)
	return c, nil
}

// Load 本地索引命中时按 CID 取正文（必要时远端拉取）；未知 ID 走分布式查询
func (b *PeerBackedBackend) Load(ctx context.Context, id string) (*MemoryItem, error) {
	e, err := b.index.Lookup(ctx, id)
	switch {
	case err == nil:
		data, err := b.GetContent(ctx, e.CID)
		if err == nil {
			return UnmarshalItem(data)
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}

	res, err := b.searchDistributed(ctx, Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	it := res.Items[0]
	if _, err := b.Save(ctx, it); err != nil && !errors.Is(err, ErrStaleVersion) {
		log.Warn("缓存远端条目失败", "id", id, "error", err)
	}
	return it, nil
}

// Search Local 只查本地；Distributed 同时广播查询
func (b *PeerBackedBackend) Search(ctx context.Context, f Filter, scope Scope) (*QueryResult, error) {
	if scope == ScopeDistributed {
		return b.searchDistributed(ctx, f)
	}
	return b.LocalBackend.Search(ctx, f, scope)
}

// FindProviders DHT 查找
func (b *PeerBackedBackend) FindProviders(ctx context.Context, c types.CID) ([]types.AddrInfo, error) {
	return b.dht.FindProviders(ctx, c, b.cfg.MaxProviders)
}

// GetContent 本地优先，缺失时依次向提供者拉取
//
// 每个提供者单独限时；内容与 CID 不符的提供者被降权并跳过。
// 成功后写入本地并公告自己为新的提供者。
func (b *PeerBackedBackend) GetContent(ctx context.Context, c types.CID) ([]byte, error) {
	data, err := b.store.Get(c)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return data, err
	}

	provs, err := b.dht.FindProviders(ctx, c, b.cfg.MaxProviders)
	if err != nil {
		return nil, err
	}
	peers := b.swarm.Peerstore()
	tried := 0
	var lastErr error
	for _, p := range provs {
		if p.ID == b.self {
			continue
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", types.ErrTimeout, c, ctx.Err())
		}
		if len(p.Addrs) > 0 {
			peers.AddAddrs(p.ID, p.Addrs...)
		}
		tried++

		fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout.Std())
		data, err := b.fetch.Fetch(fctx, p.ID, c)
		cancel()
		switch {
		case err == nil:
			if err := b.store.PutVerified(c, data); err != nil {
				return nil, err
			}
			b.metrics.Content("remote_fetch")
			b.announce(c)
			return data, nil
		case errors.Is(err, types.ErrInconsistent):
			peers.Penalize(p.ID)
			b.metrics.Content("inconsistent")
			log.Warn("提供者返回的内容与 CID 不符，已降权", "peer", p.ID.ShortString(), "cid", c.String())
		default:
			log.Debug("从提供者拉取失败", "peer", p.ID.ShortString(), "cid", c.String(), "error", err)
		}
		lastErr = err
	}
	if tried == 0 {
		return nil, fmt.Errorf("%w: no provider for %s", types.ErrNotFound, c)
	}
	return nil, fmt.Errorf("%w: %s, %d providers failed, last: %v", types.ErrNotFound, c, tried, lastErr)
}

// ============================================================================
//                              提供者公告
// ============================================================================

// announce 异步公告，不阻塞调用方
func (b *PeerBackedBackend) announce(c types.CID) {
	b.spawn(func() {
		if err := b.provideSem.Acquire(b.ctx, 1); err != nil {
			return
		}
		defer b.provideSem.Release(1)
		b.provideWithRetry(c)
	})
}

// spawn 启动后台任务，关闭后返回 false
func (b *PeerBackedBackend) spawn(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// provideWithRetry 指数退避重试 ProvideRetries 次，之后等待重新公告
func (b *PeerBackedBackend) provideWithRetry(c types.CID) {
	backoff := b.cfg.ProvideBackoff.Std()
	for attempt := 0; ; attempt++ {
		err := b.provideOnce(c)
		if err == nil {
			return
		}
		if attempt >= b.cfg.ProvideRetries || b.ctx.Err() != nil {
			log.Debug("公告失败，等待下次重新公告", "cid", c.String(), "attempts", attempt+1, "error", err)
			return
		}
		select {
		case <-b.ctx.Done():
			return
		case <-b.clock.After(backoff):
		}
		backoff = min(backoff*2, maxProvideBackoff)
	}
}

func (b *PeerBackedBackend) provideOnce(c types.CID) error {
	ctx, cancel := context.WithTimeout(b.ctx, provideTimeout)
	defer cancel()
	return b.dht.Provide(ctx, c)
}

// Reprovide 公告本地全部内容，返回成功数
func (b *PeerBackedBackend) Reprovide(ctx context.Context) (int, error) {
	keys, err := b.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var (
		mu sync.Mutex
		ok int
	)
	var g errgroup.Group
	g.SetLimit(provideConcurrency)
	for _, c := range keys {
		g.Go(func() error {
			if err := b.provideOnce(c); err != nil {
				return nil
			}
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	log.Debug("重新公告完成", "total", len(keys), "ok", ok)
	return ok, ctx.Err()
}

func (b *PeerBackedBackend) reprovideLoop() {
	defer b.wg.Done()
	ticker := b.clock.Ticker(b.reprovide)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Reprovide(b.ctx); err != nil && b.ctx.Err() == nil {
				log.Warn("重新公告失败", "error", err)
			}
		}
	}
}
