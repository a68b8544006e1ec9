package fetch

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
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// mapStore 测试用内容来源，可故意返回错误内容
type mapStore map[string][]byte

func (m mapStore) Get(c types.CID) ([]byte, error) {
	b, ok := m[c.KeyString()]
	if !ok {
		return nil, types.ErrNotFound
	}
	return b, nil
}

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

func setup(t *testing.T, store mapStore) (*Service, types.PeerID) {
	t.Helper()
	server := newTestSwarm(t)
	client := newTestSwarm(t)
	New(server, store, nil)
	client.Peerstore().AddAddrs(server.LocalPeer(), server.ListenAddrs()...)
	return New(client, nil, nil), server.LocalPeer()
}

func mustCID(t *testing.T, s string) types.CID {
	t.Helper()
	c, err := types.ComputeCID([]byte(s))
	require.NoError(t, err)
	return c
}

func TestFetch_Success(t *testing.T) {
	c := mustCID(t, "hello")
	svc, server := setup(t, mapStore{c.KeyString(): []byte("hello")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := svc.Fetch(ctx, server, c)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestFetch_NotFound(t *testing.T) {
	svc, server := setup(t, mapStore{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Fetch(ctx, server, mustCID(t, "missing"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFetch_RejectsInconsistentContent(t *testing.T) {
	c := mustCID(t, "hello")
	svc, server := setup(t, mapStore{c.KeyString(): []byte("tampered")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := svc.Fetch(ctx, server, c)
	assert.ErrorIs(t, err, types.ErrInconsistent)
	assert.Nil(t, data)
}

func TestFetch_NoServerHandler(t *testing.T) {
	server := newTestSwarm(t)
	client := newTestSwarm(t)
	client.Peerstore().AddAddrs(server.LocalPeer(), server.ListenAddrs()...)
	svc := New(client, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Fetch(ctx, server.LocalPeer(), mustCID(t, "x"))
	assert.Error(t, err)
}
