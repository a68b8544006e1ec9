package swarm

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

const echoProto types.ProtocolID = "/test/echo/1.0.0"

func testConfig() config.TransportConfig {
	cfg := config.DefaultTransportConfig()
	cfg.EnableWebSocket = false
	cfg.DialTimeout = config.Duration(time.Second)
	cfg.DialBackoff = config.Duration(50 * time.Millisecond)
	cfg.IdleTimeout = 0
	return cfg
}

func newTestSwarm(t *testing.T, cfg config.TransportConfig, opts ...Option) *Swarm {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	s, err := NewFromConfig(id, peerstore.New(nil, 3), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	t.Cleanup(func() { s.Close() })
	return s
}

func p2pAddr(t *testing.T, s *Swarm) ma.Multiaddr {
	t.Helper()
	addr, err := types.WithP2P(s.ListenAddrs()[0], s.LocalPeer())
	require.NoError(t, err)
	return addr
}

func TestSwarm_DialAndStream(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())

	b.SetStreamHandler(echoProto, func(s *Stream) {
		defer s.Close()
		_, _ = io.Copy(s, s)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := a.Dial(ctx, p2pAddr(t, b))
	require.NoError(t, err)
	assert.Equal(t, b.LocalPeer(), c.RemotePeer())
	assert.Equal(t, Connected, a.Connectedness(b.LocalPeer()))

	st, err := a.NewStream(ctx, b.LocalPeer(), "/test/missing/1.0.0", echoProto)
	require.NoError(t, err)
	assert.Equal(t, echoProto, st.Protocol())

	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	got, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.Eventually(t, func() bool {
		return b.Connectedness(a.LocalPeer()) == Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSwarm_UnsupportedProtocol(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, p2pAddr(t, b))
	require.NoError(t, err)

	_, err = a.NewStream(ctx, b.LocalPeer(), "/test/none/1.0.0")
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestStream_ResetUnblocksRead(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())

	// 对端保持流打开但从不写入
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	b.SetStreamHandler(echoProto, func(s *Stream) {
		defer s.Close()
		<-hold
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, p2pAddr(t, b))
	require.NoError(t, err)
	st, err := a.NewStream(ctx, b.LocalPeer(), echoProto)
	require.NoError(t, err)
	assert.Equal(t, b.LocalPeer(), st.RemotePeer())

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 8)
		_, err := st.Read(buf)
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, st.Reset())
	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after reset")
	}
}

func TestSwarm_ConcurrentDialsCoalesce(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())
	a.Peerstore().AddAddrs(b.LocalPeer(), b.ListenAddrs()...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan *Conn, 8)
	for i := 0; i < 8; i++ {
		go func() {
			c, err := a.DialPeer(ctx, b.LocalPeer())
			if err != nil {
				results <- nil
				return
			}
			results <- c
		}()
	}
	var first *Conn
	for i := 0; i < 8; i++ {
		c := <-results
		require.NotNil(t, c)
		if first == nil {
			first = c
		}
		assert.Same(t, first, c)
	}
	assert.Len(t, a.ConnsToPeer(b.LocalPeer()), 1)
}

func TestSwarm_UnreachableWithinBudget(t *testing.T) {
	a := newTestSwarm(t, testConfig())

	// 占用端口后立即关闭，拨号将被拒绝
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	ghost, err := identity.Generate()
	require.NoError(t, err)
	addr := ma.StringCast("/ip4/127.0.0.1/tcp/" + strconv.Itoa(port))
	a.Peerstore().AddAddrs(ghost.PeerID(), addr)

	start := time.Now()
	_, err = a.DialPeer(context.Background(), ghost.PeerID())
	require.Error(t, err)

	var de *DialError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, DialUnreachable, de.Kind)
	assert.Equal(t, 3, de.Attempts)
	assert.True(t, errors.Is(err, types.ErrUnreachable))
	assert.False(t, errors.Is(err, types.ErrHandshakeFailed))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, a.Peerstore().Has(ghost.PeerID()), "三次失败后移除")
}

func TestSwarm_WrongIdentityNotRetried(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())

	impostor, err := identity.Generate()
	require.NoError(t, err)
	a.Peerstore().AddAddrs(impostor.PeerID(), b.ListenAddrs()...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.DialPeer(ctx, impostor.PeerID())
	require.Error(t, err)

	var de *DialError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, DialHandshakeFailed, de.Kind)
	assert.Equal(t, 1, de.Attempts)
	assert.True(t, errors.Is(err, types.ErrHandshakeFailed))
}

func TestSwarm_NotifyAndClosePeer(t *testing.T) {
	a := newTestSwarm(t, testConfig())
	b := newTestSwarm(t, testConfig())

	events := make(chan Event, 4)
	a.Notify(ChanNotifiee(events))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, p2pAddr(t, b))
	require.NoError(t, err)

	ev := <-events
	assert.True(t, ev.Connected)
	assert.Equal(t, b.LocalPeer(), ev.Conn.RemotePeer())

	require.NoError(t, a.ClosePeer(b.LocalPeer()))
	select {
	case ev = <-events:
		assert.False(t, ev.Connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
	}
	assert.Equal(t, NotConnected, a.Connectedness(b.LocalPeer()))
}

func TestSwarm_IdleConnectionClosed(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig()
	cfg.IdleTimeout = config.Duration(time.Minute)

	a := newTestSwarm(t, cfg, WithClock(clk))
	b := newTestSwarm(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, p2pAddr(t, b))
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	require.Eventually(t, func() bool {
		return a.Connectedness(b.LocalPeer()) == NotConnected
	}, 2*time.Second, 10*time.Millisecond)
}
