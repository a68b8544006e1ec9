package relay

import (
	"context"
	"errors"
	"io"
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

const echoProto types.ProtocolID = "/test/echo/1.0.0"

func newSwarm(t *testing.T, listen bool) *swarm.Swarm {
	t.Helper()
	cfg := config.DefaultTransportConfig()
	cfg.EnableWebSocket = false
	cfg.DialTimeout = config.Duration(time.Second)
	cfg.DialBackoff = config.Duration(20 * time.Millisecond)
	cfg.DialRetries = 0
	cfg.IdleTimeout = 0

	id, err := identity.Generate()
	require.NoError(t, err)
	sw, err := swarm.NewFromConfig(id, peerstore.New(nil, 3), cfg)
	require.NoError(t, err)
	if listen {
		require.NoError(t, sw.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	}
	t.Cleanup(func() { sw.Close() })
	return sw
}

func relayInfo(sw *swarm.Swarm) types.AddrInfo {
	return types.AddrInfo{ID: sw.LocalPeer(), Addrs: sw.ListenAddrs()}
}

func TestRelay_FallbackWhenDirectFails(t *testing.T) {
	relaySw := newSwarm(t, true)
	relayCfg := config.DefaultRelayConfig()
	relayCfg.EnableServer = true
	srv := NewServer(relaySw, relayCfg)
	defer srv.Close()

	// 目标不监听，只保持与中继的连接
	target := newSwarm(t, false)
	NewClient(target, []types.AddrInfo{relayInfo(relaySw)})
	target.SetStreamHandler(echoProto, func(s *swarm.Stream) {
		defer s.Close()
		_, _ = io.Copy(s, s)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	target.Peerstore().AddAddrs(relaySw.LocalPeer(), relaySw.ListenAddrs()...)
	_, err := target.DialPeer(ctx, relaySw.LocalPeer())
	require.NoError(t, err)

	source := newSwarm(t, true)
	NewClient(source, []types.AddrInfo{relayInfo(relaySw)})
	// 一个无法连通的直连地址
	source.Peerstore().AddAddrs(target.LocalPeer(), ma.StringCast("/ip4/127.0.0.1/tcp/1"))

	conn, err := source.DialPeer(ctx, target.LocalPeer())
	require.NoError(t, err)
	assert.True(t, conn.IsRelayed())
	assert.Equal(t, target.LocalPeer(), conn.RemotePeer())

	st, err := conn.NewStream(ctx, echoProto)
	require.NoError(t, err)
	_, err = st.Write([]byte("via relay"))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	got, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "via relay", string(got))
	assert.Equal(t, 1, srv.ActiveCircuits())
}

func TestRelay_NoCandidatesIsUnreachable(t *testing.T) {
	source := newSwarm(t, true)
	c := NewClient(source, nil)

	ghost, err := identity.Generate()
	require.NoError(t, err)
	_, err = c.DialRelayed(context.Background(), ghost.PeerID())
	assert.True(t, errors.Is(err, ErrNoRelay))
	assert.True(t, errors.Is(err, types.ErrUnreachable))
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(1, 2, 1)
	id, err := identity.Generate()
	require.NoError(t, err)

	assert.True(t, l.Allow(id.PeerID()))
	assert.True(t, l.Allow(id.PeerID()))
	assert.False(t, l.Allow(id.PeerID()), "突发额度用尽")

	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	l.Release()
	assert.Equal(t, 0, l.Active())
	assert.True(t, l.Acquire())
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, response{Status: StatusOK}.err())
	assert.ErrorIs(t, response{Status: StatusRateLimited}.err(), ErrRateLimited)
	assert.ErrorIs(t, response{Status: StatusNoRoute}.err(), ErrRefused)
}
