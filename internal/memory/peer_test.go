package memory

import (
	"context"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/fetch"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func testMemoryConfig() config.MemoryConfig {
	cfg := config.DefaultMemoryConfig()
	cfg.FetchTimeout = config.Duration(2 * time.Second)
	cfg.QueryWindow = config.Duration(500 * time.Millisecond)
	cfg.ProvideRetries = 3
	cfg.ProvideBackoff = config.Duration(50 * time.Millisecond)
	return cfg
}

type peerNode struct {
	sw      *swarm.Swarm
	dht     *dht.DHT
	ps      *pubsub.Router
	backend *PeerBackedBackend
	coord   *Coordinator
}

func newTestSwarm(t *testing.T) *swarm.Swarm {
	t.Helper()
	cfg := config.DefaultTransportConfig()
	cfg.EnableWebSocket = false
	cfg.DialTimeout = config.Duration(time.Second)
	cfg.DialRetries = 1
	cfg.DialBackoff = config.Duration(20 * time.Millisecond)
	cfg.IdleTimeout = 0

	id, err := identity.Generate()
	require.NoError(t, err)
	sw, err := swarm.NewFromConfig(id, peerstore.New(nil, 3), cfg)
	require.NoError(t, err)
	require.NoError(t, sw.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	t.Cleanup(func() { _ = sw.Close() })
	return sw
}

func newTestDHT(t *testing.T, sw *swarm.Swarm) *dht.DHT {
	t.Helper()
	cfg := config.DefaultDiscoveryConfig()
	cfg.RequestTimeout = config.Duration(2 * time.Second)
	cfg.LookupTimeout = config.Duration(5 * time.Second)
	d := dht.New(sw, cfg)
	d.Start()
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newPeerNode(t *testing.T) *peerNode {
	t.Helper()
	sw := newTestSwarm(t)
	d := newTestDHT(t, sw)

	psCfg := config.DefaultPubSubConfig()
	psCfg.InterestRefresh = config.Duration(100 * time.Millisecond)
	psCfg.HoldBack = config.Duration(100 * time.Millisecond)
	ps := pubsub.New(sw, psCfg)
	t.Cleanup(func() { _ = ps.Close() })

	local := newLocalBackend(t)
	f := fetch.New(sw, local.store, nil)
	t.Cleanup(func() { _ = f.Close() })

	m := metrics.NewIsolated("test")
	b := NewPeerBackedBackend(local, Network{Swarm: sw, DHT: d, Fetch: f, PubSub: ps}, testMemoryConfig(), 0, WithMetrics(m))
	require.NoError(t, b.Start())
	c := NewCoordinator(b, m, nil)
	// 先于 pubsub 与 swarm 关闭
	t.Cleanup(func() { _ = c.Close() })
	return &peerNode{sw: sw, dht: d, ps: ps, backend: b, coord: c}
}

func (n *peerNode) id() types.PeerID { return n.sw.LocalPeer() }

func (n *peerNode) info() types.AddrInfo {
	return types.AddrInfo{ID: n.id(), Addrs: n.sw.ListenAddrs()}
}

func bootstrap(t *testing.T, n *peerNode, seeds ...*peerNode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	infos := make([]types.AddrInfo, len(seeds))
	for i, s := range seeds {
		infos[i] = s.info()
	}
	_, err := n.dht.Bootstrap(ctx, infos)
	require.NoError(t, err)
}

// waitQueryInterest 等 a 看到 b 对查询主题的兴趣
func waitQueryInterest(t *testing.T, a, b *peerNode) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, p := range a.ps.InterestedPeers(protocolids.MemoryQueryTopic) {
			if p == b.id() {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func waitProvider(t *testing.T, n *peerNode, c types.CID, provider types.PeerID) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		provs, err := n.coord.FindProviders(ctx, c)
		if err != nil {
			return false
		}
		for _, p := range provs {
			if p.ID == provider {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)
}

// A 存内容，C 经 B 找到 A 并拉取，之后 C 自己也成为提供者
func TestPeerBacked_ContentViaProviders(t *testing.T) {
	a, b, c := newPeerNode(t), newPeerNode(t), newPeerNode(t)
	bootstrap(t, a, b)
	bootstrap(t, c, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cid, err := a.coord.StoreContent(ctx, []byte("hello"))
	require.NoError(t, err)
	waitProvider(t, c, cid, a.id())

	data, err := c.coord.GetContent(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	has, err := c.backend.store.Has(cid)
	require.NoError(t, err)
	assert.True(t, has)
	waitProvider(t, b, cid, c.id())
}

func TestPeerBacked_GetContentUnknown(t *testing.T) {
	a, b := newPeerNode(t), newPeerNode(t)
	bootstrap(t, a, b)

	missing, err := types.ComputeCID([]byte("nobody has this"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = a.coord.GetContent(ctx, missing)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// tamperedStore 对任何 CID 都返回同一段错误内容
type tamperedStore struct{}

func (tamperedStore) Get(types.CID) ([]byte, error) { return []byte("tampered"), nil }

func TestPeerBacked_InconsistentProviderPenalized(t *testing.T) {
	b, c := newPeerNode(t), newPeerNode(t)
	bootstrap(t, c, b)

	// 声称提供内容、实际返回错误数据的节点
	evilSw := newTestSwarm(t)
	evilDHT := newTestDHT(t, evilSw)
	evilFetch := fetch.New(evilSw, tamperedStore{}, nil)
	t.Cleanup(func() { _ = evilFetch.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err := evilDHT.Bootstrap(ctx, []types.AddrInfo{b.info()})
	require.NoError(t, err)

	cid, err := types.ComputeCID([]byte("genuine"))
	require.NoError(t, err)
	require.NoError(t, evilDHT.Provide(ctx, cid))
	waitProvider(t, c, cid, evilSw.LocalPeer())

	_, err = c.coord.GetContent(ctx, cid)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Positive(t, c.sw.Peerstore().Penalty(evilSw.LocalPeer()))
	has, err := c.backend.store.Has(cid)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPeerBacked_DistributedQueryKeepsNewest(t *testing.T) {
	a, b := newPeerNode(t), newPeerNode(t)
	bootstrap(t, a, b)
	waitQueryInterest(t, a, b)
	waitQueryInterest(t, b, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	v1 := sampleItem()
	v2 := v1.Clone()
	v2.Content = "The build server moved to rack 7"
	v2.UpdatedAt = v1.UpdatedAt.Add(time.Hour)
	v2.Version = 2
	_, err := a.coord.Store(ctx, v1)
	require.NoError(t, err)
	_, err = b.coord.Store(ctx, v2)
	require.NoError(t, err)

	only := &MemoryItem{
		ID:        NewID(),
		Kind:      KindFact,
		Content:   "only on b",
		ThreadID:  v1.ThreadID,
		UpdatedAt: v1.UpdatedAt,
	}
	_, err = b.coord.Store(ctx, only)
	require.NoError(t, err)

	res, err := a.coord.Query(ctx, Filter{ThreadID: v1.ThreadID}, ScopeDistributed)
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 1, res.Expected)
	assert.Equal(t, 1, res.Responders)
	require.Len(t, res.Items, 2)
	assert.Equal(t, v1.ID, res.Items[0].ID)
	assert.Equal(t, uint64(2), res.Items[0].Version)
	assert.Equal(t, v2.Content, res.Items[0].Content)
	assert.Equal(t, only.ID, res.Items[1].ID)

	// 本地范围只看到自己的旧版本
	res, err = a.coord.Query(ctx, Filter{ThreadID: v1.ThreadID}, ScopeLocal)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, uint64(1), res.Items[0].Version)
}

func TestPeerBacked_QueryIncompleteWhenPeerSilent(t *testing.T) {
	a, b := newPeerNode(t), newPeerNode(t)
	bootstrap(t, a, b)
	waitQueryInterest(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 占满 b 的查询处理名额，b 会丢弃请求
	require.NoError(t, b.backend.querySem.Acquire(ctx, queryConcurrency))
	defer b.backend.querySem.Release(queryConcurrency)

	_, err := a.coord.Store(ctx, sampleItem())
	require.NoError(t, err)

	res, err := a.coord.Query(ctx, Filter{}, ScopeDistributed)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 1, res.Expected)
	assert.Equal(t, 0, res.Responders)
	assert.Len(t, res.Items, 1)
}

func TestPeerBacked_RetrieveRemoteByID(t *testing.T) {
	a, b := newPeerNode(t), newPeerNode(t)
	bootstrap(t, a, b)
	waitQueryInterest(t, a, b)
	waitQueryInterest(t, b, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	it := sampleItem()
	_, err := b.coord.Store(ctx, it)
	require.NoError(t, err)

	got, err := a.coord.Retrieve(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.Content, got.Content)

	// 取回的条目已缓存在本地
	_, err = a.backend.index.Lookup(ctx, it.ID)
	assert.NoError(t, err)

	_, err = a.coord.Retrieve(ctx, NewID())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPeerBacked_Reprovide(t *testing.T) {
	a, b := newPeerNode(t), newPeerNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 孤立时写入，公告失败
	cid, err := a.coord.StoreContent(ctx, []byte("late"))
	require.NoError(t, err)
	n, err := a.backend.Reprovide(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	bootstrap(t, a, b)
	n, err = a.backend.Reprovide(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, b.dht.Providers().Get(cid))
}
