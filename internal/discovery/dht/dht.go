package dht

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("discovery.dht")

var (
	// ErrNoPeers 路由表为空，无法向网络发布
	ErrNoPeers = errors.New("dht: no peers in routing table")
)

const (
	// providerCacheSize 远端提供者查询缓存条数
	providerCacheSize = 512

	// sweepInterval 过期提供者记录清理间隔
	sweepInterval = time.Minute

	// emptyTableRetry 路由表为空时重新引导的间隔
	emptyTableRetry = 30 * time.Second
)

// Option DHT 选项
type Option func(*DHT)

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DHT) { d.metrics = m }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(d *DHT) {
		if clk != nil {
			d.clock = clk
		}
	}
}

// BootstrapResult 引导结果
type BootstrapResult struct {
	Seeds     int
	Connected int
	Isolated  bool
	TableSize int
	Lookup    LookupStats
}

// DHT Kademlia 节点
type DHT struct {
	self    types.PeerID
	swarm   *swarm.Swarm
	peers   *peerstore.Peerstore
	cfg     config.DiscoveryConfig
	metrics *metrics.Metrics
	clock   clock.Clock

	rt        *RoutingTable
	providers *ProviderStore
	cache     *expirable.LRU[string, []types.AddrInfo]
	limiter   *senderLimiter

	lastLookup atomic.Pointer[LookupStats]

	seedsMu sync.Mutex
	seeds   []types.AddrInfo

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New 创建 DHT 并注册协议处理器
func New(sw *swarm.Swarm, cfg config.DiscoveryConfig, opts ...Option) *DHT {
	ctx, cancel := context.WithCancel(context.Background())
	d := &DHT{
		self:   sw.LocalPeer(),
		swarm:  sw,
		peers:  sw.Peerstore(),
		cfg:    cfg,
		clock:  clock.New(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.rt = NewRoutingTable(d.self, cfg.BucketSize, d.clock)
	d.providers = NewProviderStore(d.clock, cfg.ProviderTTL.Std())
	d.cache = expirable.NewLRU[string, []types.AddrInfo](providerCacheSize, nil, cfg.ProviderCacheTTL.Std())
	d.limiter = newSenderLimiter(cfg.RequestsPerSecond)

	sw.SetStreamHandler(protocolids.Kad, d.handleStream)
	sw.Notify(&swarm.NotifyBundle{
		ConnectedF: func(c *swarm.Conn) {
			d.rt.Update(c.RemotePeer())
		},
	})
	return d
}

// LocalPeer 本地节点
func (d *DHT) LocalPeer() types.PeerID { return d.self }

// RoutingTable 路由表
func (d *DHT) RoutingTable() *RoutingTable { return d.rt }

// Providers 本地提供者记录
func (d *DHT) Providers() *ProviderStore { return d.providers }

// Isolated 路由表为空时为 true
func (d *DHT) Isolated() bool { return d.rt.Size() == 0 }

// LastLookup 最近一次查找的统计
func (d *DHT) LastLookup() LookupStats {
	if s := d.lastLookup.Load(); s != nil {
		return *s
	}
	return LookupStats{State: StateIdle}
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 并发拨号种子节点，随后执行自查找填充路由表
//
// 种子全部不可达时以隔离模式运行，只记录警告，不返回错误。
func (d *DHT) Bootstrap(ctx context.Context, seeds []types.AddrInfo) (BootstrapResult, error) {
	d.seedsMu.Lock()
	d.seeds = seeds
	d.seedsMu.Unlock()

	res := BootstrapResult{Seeds: len(seeds)}
	var connected atomic.Int32

	var g errgroup.Group
	for _, seed := range seeds {
		if seed.ID == d.self || seed.ID.IsEmpty() {
			continue
		}
		g.Go(func() error {
			d.peers.AddAddrs(seed.ID, seed.Addrs...)
			if _, err := d.swarm.DialPeer(ctx, seed.ID); err != nil {
				log.Warn("种子节点不可达", "peer", seed.ID.ShortString(), "error", err)
				return nil
			}
			d.rt.Update(seed.ID)
			connected.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Connected = int(connected.Load())

	if d.rt.Size() == 0 {
		res.Isolated = true
		if len(seeds) > 0 {
			log.Warn("无法连接任何种子节点，以隔离模式运行", "seeds", len(seeds))
		} else {
			log.Info("未配置种子节点，等待其他节点连入")
		}
		return res, nil
	}

	_, stats := d.lookupNodes(ctx, "bootstrap", types.KeyForPeer(d.self))
	res.Lookup = stats
	res.TableSize = d.rt.Size()
	res.Isolated = res.TableSize == 0
	log.Info("DHT 引导完成",
		"seeds", len(seeds),
		"connected", res.Connected,
		"table", res.TableSize,
		"hops", stats.Hops)
	return res, nil
}

// AddPeer 拨号并加入路由表，供 mDNS 等发现机制使用
func (d *DHT) AddPeer(ctx context.Context, ai types.AddrInfo) error {
	if ai.ID == d.self {
		return nil
	}
	d.peers.AddAddrs(ai.ID, ai.Addrs...)
	if _, err := d.swarm.DialPeer(ctx, ai.ID); err != nil {
		return err
	}
	d.rt.Update(ai.ID)
	return nil
}

// ============================================================================
//                              查找
// ============================================================================

func (d *DHT) newLookup(kind string, target types.DHTKey, fn queryFunc) *lookup {
	return &lookup{
		target:  target,
		k:       d.cfg.BucketSize,
		alpha:   d.cfg.Alpha,
		maxHops: d.cfg.MaxLookupHops,
		query:   fn,
		self:    d.self,
		peers:   make(map[types.PeerID]*candidate),
		stats:   LookupStats{Kind: kind},
	}
}

// runLookup 在 LookupTimeout 内执行迭代查找并记录统计
func (d *DHT) runLookup(ctx context.Context, kind string, target types.DHTKey, fn queryFunc) ([]types.PeerID, LookupStats) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout.Std())
	defer cancel()

	start := time.Now()
	l := d.newLookup(kind, target, fn)
	closest := l.run(ctx, d.rt.NearestPeers(target, d.cfg.BucketSize))

	l.stats.State = l.state
	l.stats.Duration = time.Since(start)
	stats := l.stats
	d.lastLookup.Store(&stats)
	d.metrics.Lookup(kind, stats.State.String(), stats.Duration)
	log.Debug("查找结束",
		"kind", kind,
		"state", stats.State,
		"hops", stats.Hops,
		"queried", stats.Queried,
		"failed", stats.Failed,
		"closest", len(closest))
	return closest, stats
}

// lookupNodes FIND_NODE 迭代查找
func (d *DHT) lookupNodes(ctx context.Context, kind string, target types.DHTKey) ([]types.PeerID, LookupStats) {
	return d.runLookup(ctx, kind, target, func(ctx context.Context, p types.PeerID) ([]types.PeerID, bool, error) {
		resp, err := d.request(ctx, p, &Message{Type: MessageFindNode, Key: target.String()})
		if err != nil {
			return nil, false, err
		}
		return d.absorb(resp.CloserPeers), false, nil
	})
}

// absorb 记录响应中的节点地址，返回其 ID
func (d *DHT) absorb(records []PeerRecord) []types.PeerID {
	out := make([]types.PeerID, 0, len(records))
	for _, rec := range records {
		if rec.ID.IsEmpty() || rec.ID == d.self {
			continue
		}
		if ai := rec.AddrInfo(); len(ai.Addrs) > 0 {
			d.peers.AddAddrs(ai.ID, ai.Addrs...)
		}
		out = append(out, rec.ID)
	}
	return out
}

// ClosestPeers 网络中距 key 最近的节点
func (d *DHT) ClosestPeers(ctx context.Context, key types.DHTKey) ([]types.PeerID, error) {
	peers, stats := d.lookupNodes(ctx, "closest", key)
	if stats.State == StateTimedOut && ctx.Err() != nil {
		return peers, ctx.Err()
	}
	return peers, nil
}

// FindPeer 查找节点地址
//
// 已连接或查找中被任一节点给出地址即返回；否则回退到节点表中的已知地址。
func (d *DHT) FindPeer(ctx context.Context, p types.PeerID) (types.AddrInfo, error) {
	if p == d.self {
		return types.AddrInfo{ID: d.self, Addrs: d.swarm.AdvertisedAddrs()}, nil
	}
	if d.swarm.Connectedness(p) == swarm.Connected {
		return types.AddrInfo{ID: p, Addrs: d.peers.Addrs(p)}, nil
	}

	target := types.KeyForPeer(p)
	var found atomic.Bool
	_, stats := d.runLookup(ctx, "find_peer", target, func(ctx context.Context, q types.PeerID) ([]types.PeerID, bool, error) {
		if q == p {
			_, err := d.request(ctx, q, &Message{Type: MessagePing})
			if err == nil {
				found.Store(true)
			}
			return nil, err == nil, err
		}
		resp, err := d.request(ctx, q, &Message{Type: MessageFindNode, Key: target.String()})
		if err != nil {
			return nil, false, err
		}
		closer := d.absorb(resp.CloserPeers)
		for _, rec := range resp.CloserPeers {
			if rec.ID == p && len(rec.Addrs) > 0 {
				found.Store(true)
				return closer, true, nil
			}
		}
		return closer, false, nil
	})

	if addrs := d.peers.Addrs(p); len(addrs) > 0 || found.Load() {
		return types.AddrInfo{ID: p, Addrs: addrs}, nil
	}
	if stats.State == StateTimedOut && ctx.Err() != nil {
		return types.AddrInfo{}, ctx.Err()
	}
	return types.AddrInfo{}, fmt.Errorf("%w: peer %s", types.ErrNotFound, p.ShortString())
}

// ============================================================================
//                              提供者
// ============================================================================

// Provide 在本地登记，并向距 c 最近的节点发布提供者记录
//
// 路由表为空时只保留本地记录并返回 ErrNoPeers，调用方稍后重试。
func (d *DHT) Provide(ctx context.Context, c types.CID) error {
	self := types.AddrInfo{ID: d.self, Addrs: d.swarm.AdvertisedAddrs()}
	d.providers.Add(c, self)
	d.metrics.SetProviderRecords(d.providers.Len())

	if d.rt.Size() == 0 {
		return ErrNoPeers
	}
	closest, _ := d.lookupNodes(ctx, "provide", types.KeyForCID(c))
	if len(closest) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNoPeers
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		acked   int
		lastErr error
	)
	g.SetLimit(d.cfg.Alpha)
	for _, p := range closest {
		g.Go(func() error {
			_, err := d.request(ctx, p, &Message{Type: MessageAddProvider, Key: c.String()})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			acked++
			return nil
		})
	}
	_ = g.Wait()

	if acked == 0 {
		return fmt.Errorf("provide %s: no peer accepted the record: %w", c, lastErr)
	}
	log.Debug("已发布提供者记录", "cid", c, "peers", acked)
	return nil
}

// FindProviders 查找 c 的提供者，找到 limit 个或候选耗尽即返回
//
// 结果包括本地记录与缓存，受过惩罚的节点排在后面。没有提供者时返回空切片。
func (d *DHT) FindProviders(ctx context.Context, c types.CID, limit int) ([]types.AddrInfo, error) {
	if limit <= 0 {
		limit = d.cfg.BucketSize
	}

	var mu sync.Mutex
	seen := make(map[types.PeerID]int)
	var found []types.AddrInfo
	collect := func(ai types.AddrInfo) {
		mu.Lock()
		defer mu.Unlock()
		if i, ok := seen[ai.ID]; ok {
			found[i].Addrs = types.UniqueAddrs(append(found[i].Addrs, ai.Addrs...))
			return
		}
		seen[ai.ID] = len(found)
		found = append(found, ai)
	}
	enough := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(found) >= limit
	}

	for _, rec := range d.providers.Get(c) {
		collect(rec.Provider)
	}
	cacheKey := c.KeyString()
	if cached, ok := d.cache.Get(cacheKey); ok {
		for _, ai := range cached {
			collect(ai)
		}
	}

	var lookupErr error
	if !enough() && d.rt.Size() > 0 {
		_, stats := d.runLookup(ctx, "find_providers", types.KeyForCID(c), func(ctx context.Context, p types.PeerID) ([]types.PeerID, bool, error) {
			resp, err := d.request(ctx, p, &Message{Type: MessageGetProviders, Key: c.String()})
			if err != nil {
				return nil, false, err
			}
			for _, rec := range resp.Providers {
				ai := rec.AddrInfo()
				if ai.ID.IsEmpty() {
					continue
				}
				if ai.ID != d.self && len(ai.Addrs) > 0 {
					d.peers.AddAddrs(ai.ID, ai.Addrs...)
				}
				collect(ai)
			}
			return d.absorb(resp.CloserPeers), enough(), nil
		})
		if stats.State == StateTimedOut && ctx.Err() != nil {
			lookupErr = ctx.Err()
		}
		mu.Lock()
		remote := slices.DeleteFunc(slices.Clone(found), func(ai types.AddrInfo) bool { return ai.ID == d.self })
		mu.Unlock()
		if len(remote) > 0 {
			d.cache.Add(cacheKey, remote)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	slices.SortStableFunc(found, func(a, b types.AddrInfo) int {
		return d.peers.Penalty(a.ID) - d.peers.Penalty(b.ID)
	})
	if len(found) > limit {
		found = found[:limit]
	}
	if len(found) == 0 {
		log.Debug("没有找到提供者", "cid", c)
	}
	return found, lookupErr
}

// ============================================================================
//                              请求
// ============================================================================

// request 发送一个请求并等待响应，受 RequestTimeout 约束
func (d *DHT) request(ctx context.Context, p types.PeerID, req *Message) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout.Std())
	defer cancel()

	resp, err := d.roundTrip(ctx, p, req)
	d.metrics.DHTRequest(string(req.Type), err)
	if err != nil {
		if !errors.Is(err, context.Canceled) && d.rt.Fail(p) {
			log.Debug("节点多次无响应，移出路由表", "peer", p.ShortString())
		}
		return nil, err
	}
	d.rt.Update(p)
	d.peers.MarkSeen(p)
	return resp, nil
}

func (d *DHT) roundTrip(ctx context.Context, p types.PeerID, req *Message) (*Message, error) {
	s, err := d.swarm.NewStream(ctx, p, protocolids.Kad)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	msg := *req
	msg.Sender = d.self
	msg.SenderAddrs = types.AddrStrings(d.swarm.AdvertisedAddrs())
	if err := writeMessage(s, &msg); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", types.ErrUnreachable, req.Type, err)
	}
	resp, err := readMessage(s)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s to %s", types.ErrTimeout, req.Type, p.ShortString())
		}
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrUnreachable, req.Type, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

// ============================================================================
//                              后台任务
// ============================================================================

// Start 启动路由表刷新与记录清理
func (d *DHT) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go d.background()
}

func (d *DHT) background() {
	defer d.wg.Done()

	sweep := d.clock.Ticker(sweepInterval)
	defer sweep.Stop()
	refresh := d.clock.Timer(d.nextRefresh())
	defer refresh.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-sweep.C:
			if n := d.providers.Sweep(); n > 0 {
				log.Debug("清理过期提供者记录", "removed", n)
			}
			d.metrics.SetProviderRecords(d.providers.Len())
		case <-refresh.C:
			d.refresh(d.ctx)
			refresh.Reset(d.nextRefresh())
		}
	}
}

func (d *DHT) nextRefresh() time.Duration {
	interval := d.cfg.RefreshInterval.Std()
	if d.rt.Size() == 0 && interval > emptyTableRetry {
		return emptyTableRetry
	}
	return interval
}

// refresh 路由表为空时重新引导，否则对自身和一个随机坐标做查找
func (d *DHT) refresh(ctx context.Context) {
	if d.rt.Size() == 0 {
		d.seedsMu.Lock()
		seeds := d.seeds
		d.seedsMu.Unlock()
		if len(seeds) > 0 {
			_, _ = d.Bootstrap(ctx, seeds)
		}
		return
	}
	d.lookupNodes(ctx, "refresh", types.KeyForPeer(d.self))

	var random types.DHTKey
	if _, err := rand.Read(random[:]); err == nil {
		d.lookupNodes(ctx, "refresh", random)
	}
}

// Close 停止后台任务并注销协议处理器
func (d *DHT) Close() error {
	d.cancel()
	d.wg.Wait()
	d.swarm.RemoveStreamHandler(protocolids.Kad)
	return nil
}
