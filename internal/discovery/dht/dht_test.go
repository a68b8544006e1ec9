package dht

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/pkg/protocolids"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func testTransportConfig() config.TransportConfig {
	cfg := config.DefaultTransportConfig()
	cfg.EnableWebSocket = false
	cfg.DialTimeout = config.Duration(time.Second)
	cfg.DialRetries = 1
	cfg.DialBackoff = config.Duration(20 * time.Millisecond)
	cfg.IdleTimeout = 0
	return cfg
}

func testDiscoveryConfig() config.DiscoveryConfig {
	cfg := config.DefaultDiscoveryConfig()
	cfg.RequestTimeout = config.Duration(2 * time.Second)
	cfg.LookupTimeout = config.Duration(5 * time.Second)
	return cfg
}

func newTestDHT(t *testing.T) *DHT {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	sw, err := swarm.NewFromConfig(id, peerstore.New(nil, 3), testTransportConfig())
	require.NoError(t, err)
	require.NoError(t, sw.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))

	d := New(sw, testDiscoveryConfig())
	d.Start()
	t.Cleanup(func() {
		_ = d.Close()
		_ = sw.Close()
	})
	return d
}

func seedOf(d *DHT) types.AddrInfo {
	return types.AddrInfo{ID: d.self, Addrs: d.swarm.ListenAddrs()}
}

func TestDHT_BootstrapAndFindPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	seed := newTestDHT(t)
	nodes := make([]*DHT, 5)
	for i := range nodes {
		nodes[i] = newTestDHT(t)
		res, err := nodes[i].Bootstrap(ctx, []types.AddrInfo{seedOf(seed)})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Connected)
		assert.False(t, res.Isolated)
	}

	// 后加入的节点通过种子把自己告诉了网络，先加入的节点再做一次自查找即可看到全部节点
	for _, n := range nodes {
		n.lookupNodes(ctx, "refresh", types.KeyForPeer(n.self))
	}

	for _, from := range nodes {
		for _, to := range nodes {
			if from == to {
				continue
			}
			ai, err := from.FindPeer(ctx, to.self)
			require.NoError(t, err)
			assert.Equal(t, to.self, ai.ID)
			assert.NotEmpty(t, ai.Addrs)
		}
	}
	assert.Equal(t, StateDone, nodes[0].LastLookup().State)
}

func TestDHT_ProvideAndFindProviders(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	b := newTestDHT(t)
	a := newTestDHT(t)
	c := newTestDHT(t)
	_, err := a.Bootstrap(ctx, []types.AddrInfo{seedOf(b)})
	require.NoError(t, err)
	_, err = c.Bootstrap(ctx, []types.AddrInfo{seedOf(b)})
	require.NoError(t, err)

	h := mustCID(t, "hello")
	require.NoError(t, a.Provide(ctx, h))
	assert.Len(t, b.Providers().Get(h), 1, "种子保存了 a 的记录")

	provs, err := c.FindProviders(ctx, h, 1)
	require.NoError(t, err)
	require.Len(t, provs, 1)
	assert.Equal(t, a.self, provs[0].ID)
	assert.NotEmpty(t, provs[0].Addrs)

	none, err := c.FindProviders(ctx, mustCID(t, "nobody"), 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDHT_BootstrapUnreachableSeedIsIsolated(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ma.StringCast("/ip4/127.0.0.1/tcp/" + strconv.Itoa(l.Addr().(*net.TCPAddr).Port))
	require.NoError(t, l.Close())

	ghost, err := identity.Generate()
	require.NoError(t, err)

	d := newTestDHT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := d.Bootstrap(ctx, []types.AddrInfo{{ID: ghost.PeerID(), Addrs: []types.Multiaddr{deadAddr}}})
	require.NoError(t, err)
	assert.True(t, res.Isolated)
	assert.Zero(t, res.Connected)
	assert.True(t, d.Isolated())

	assert.ErrorIs(t, d.Provide(ctx, mustCID(t, "local")), ErrNoPeers)
	provs, err := d.FindProviders(ctx, mustCID(t, "local"), 1)
	require.NoError(t, err)
	require.Len(t, provs, 1, "本地记录仍可查")
	assert.Equal(t, d.self, provs[0].ID)
}

func TestDHT_FindPeerNotFound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := newTestDHT(t)
	a := newTestDHT(t)
	_, err := a.Bootstrap(ctx, []types.AddrInfo{seedOf(b)})
	require.NoError(t, err)

	ghost, err := identity.Generate()
	require.NoError(t, err)
	_, err = a.FindPeer(ctx, ghost.PeerID())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDHT_RejectsSpoofedSender(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := newTestDHT(t)
	a := newTestDHT(t)
	a.peers.AddAddrs(b.self, b.swarm.ListenAddrs()...)

	s, err := a.swarm.NewStream(ctx, b.self, protocolids.Kad)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, writeMessage(s, &Message{Type: MessagePing, Sender: rawID(0x42)}))
	resp, err := readMessage(s)
	require.NoError(t, err)
	assert.Equal(t, errSenderMismatch, resp.Error)
}

func TestParseSeeds(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	p := id.PeerID().String()

	seeds, err := ParseSeeds([]string{
		"/ip4/10.0.0.1/tcp/4001/p2p/" + p,
		"/ip4/10.0.0.1/tcp/4002/ws/p2p/" + p,
	})
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Len(t, seeds[0].Addrs, 2)

	_, err = ParseSeeds([]string{"/ip4/10.0.0.1/tcp/4001"})
	assert.Error(t, err)
}
