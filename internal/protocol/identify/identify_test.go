package identify

import (
	"context"
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
)

func newTestSwarm(t *testing.T) *swarm.Swarm {
	t.Helper()
	cfg := config.DefaultTransportConfig()
	cfg.EnableWebSocket = false
	cfg.DialTimeout = config.Duration(time.Second)
	cfg.DialBackoff = config.Duration(50 * time.Millisecond)
	cfg.IdleTimeout = 0

	id, err := identity.Generate()
	require.NoError(t, err)
	sw, err := swarm.NewFromConfig(id, peerstore.New(nil, 3), cfg)
	require.NoError(t, err)
	require.NoError(t, sw.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	t.Cleanup(func() { _ = sw.Close() })
	return sw
}

func TestIdentify_ExchangeOnConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	swA, swB := newTestSwarm(t), newTestSwarm(t)
	a := New(swA, "")
	b := New(swB, "lumos-test/0.1")
	defer a.Close()
	defer b.Close()
	b.SetCapability("agent", "planner")

	swA.Peerstore().AddAddrs(swB.LocalPeer(), swB.ListenAddrs()...)
	_, err := swA.DialPeer(ctx, swB.LocalPeer())
	require.NoError(t, err)

	require.NoError(t, a.WaitIdentified(ctx, swB.LocalPeer()))
	require.NoError(t, b.WaitIdentified(ctx, swA.LocalPeer()))

	info, ok := swA.Peerstore().Get(swB.LocalPeer())
	require.True(t, ok)
	assert.Equal(t, "lumos-test/0.1", info.AgentVersion)
	assert.Equal(t, "planner", info.Capabilities["agent"])
	assert.Contains(t, info.Protocols, string(protocolids.Identify))

	// b 通过 identify 学到了 a 的监听地址
	assert.NotEmpty(t, swB.Peerstore().Addrs(swA.LocalPeer()))
	info, ok = swB.Peerstore().Get(swA.LocalPeer())
	require.True(t, ok)
	assert.Equal(t, DefaultAgentVersion, info.AgentVersion)
}

func TestIdentify_CapabilityChangeIsPushed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	swA, swB := newTestSwarm(t), newTestSwarm(t)
	a := New(swA, "")
	b := New(swB, "")
	defer a.Close()
	defer b.Close()

	swA.Peerstore().AddAddrs(swB.LocalPeer(), swB.ListenAddrs()...)
	_, err := swA.DialPeer(ctx, swB.LocalPeer())
	require.NoError(t, err)
	require.NoError(t, a.WaitIdentified(ctx, swB.LocalPeer()))

	b.SetCapability("relay", "true")
	assert.Eventually(t, func() bool {
		peers := swA.Peerstore().PeersWithCapability("relay", "true")
		return len(peers) == 1 && peers[0] == swB.LocalPeer()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, map[string]string{"relay": "true"}, b.Capabilities())
}

func TestIdentify_WaitIdentifiedHonoursContext(t *testing.T) {
	sw := newTestSwarm(t)
	s := New(sw, "")
	defer s.Close()

	other, err := identity.Generate()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitIdentified(ctx, other.PeerID()), context.DeadlineExceeded)
}
