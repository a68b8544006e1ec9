package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func mustCID(t *testing.T, data string) types.CID {
	t.Helper()
	c, err := types.ComputeCID([]byte(data))
	require.NoError(t, err)
	return c
}

func TestProviderStore_TTL(t *testing.T) {
	clk := clock.NewMock()
	s := NewProviderStore(clk, 30*time.Minute)
	c := mustCID(t, "hello")

	a, b := rawID(0x10), rawID(0x20)
	s.Add(c, types.AddrInfo{ID: a})
	clk.Add(10 * time.Minute)
	s.Add(c, types.AddrInfo{ID: b})

	recs := s.Get(c)
	require.Len(t, recs, 2)
	assert.Equal(t, a, recs[0].Provider.ID)

	clk.Add(25 * time.Minute)
	recs = s.Get(c)
	require.Len(t, recs, 1, "a 已过期")
	assert.Equal(t, b, recs[0].Provider.ID)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	clk.Add(10 * time.Minute)
	assert.Empty(t, s.Get(c))
	assert.Equal(t, 1, s.Sweep())
	assert.Zero(t, s.Len())
}

func TestProviderStore_RefreshKeepsAddrs(t *testing.T) {
	clk := clock.NewMock()
	s := NewProviderStore(clk, time.Minute)
	c := mustCID(t, "x")
	p := rawID(0x10)

	addr, err := types.ParseMultiaddr("/ip4/10.0.0.1/tcp/4001")
	require.NoError(t, err)
	s.Add(c, types.AddrInfo{ID: p, Addrs: []types.Multiaddr{addr}})

	clk.Add(50 * time.Second)
	s.Add(c, types.AddrInfo{ID: p})
	clk.Add(50 * time.Second)

	recs := s.Get(c)
	require.Len(t, recs, 1, "刷新延长了有效期")
	assert.Equal(t, []types.Multiaddr{addr}, recs[0].Provider.Addrs)
}

func TestSenderLimiter(t *testing.T) {
	l := newSenderLimiter(1)
	p := rawID(0x10)

	assert.True(t, l.Allow(p))
	assert.True(t, l.Allow(p))
	assert.False(t, l.Allow(p), "突发额度用完")
	assert.True(t, l.Allow(rawID(0x20)), "其他发送方不受影响")
}
