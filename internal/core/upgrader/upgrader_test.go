package upgrader

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/security/noise"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func newUpgrader(t *testing.T, timeout time.Duration) (*Upgrader, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	u, err := New(noise.New(id), timeout)
	require.NoError(t, err)
	return u, id
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := l.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestUpgrade_RoundTrip(t *testing.T) {
	clientU, clientID := newUpgrader(t, 5*time.Second)
	serverU, serverID := newUpgrader(t, 5*time.Second)
	rawC, rawS := tcpPair(t)

	ctx := context.Background()
	serverConn := make(chan *Conn, 1)
	go func() {
		c, err := serverU.Upgrade(ctx, rawS, DirInbound, types.EmptyPeerID, nil, nil)
		if err != nil {
			serverConn <- nil
			return
		}
		serverConn <- c
	}()

	cc, err := clientU.Upgrade(ctx, rawC, DirOutbound, serverID.PeerID(), nil, nil)
	require.NoError(t, err)
	defer cc.Close()

	sc := <-serverConn
	require.NotNil(t, sc)
	defer sc.Close()

	assert.Equal(t, serverID.PeerID(), cc.RemotePeer())
	assert.Equal(t, clientID.PeerID(), sc.RemotePeer())
	assert.Equal(t, DirOutbound, cc.Direction())
	assert.Equal(t, DirInbound, sc.Direction())

	go func() {
		st, err := sc.AcceptStream()
		if err != nil {
			return
		}
		defer st.Close()
		_, _ = io.Copy(st, st)
	}()

	st, err := cc.OpenStream(ctx)
	require.NoError(t, err)
	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(st, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	st.Close()
}

func TestUpgrade_WrongPeerIsHandshakeFailure(t *testing.T) {
	clientU, _ := newUpgrader(t, 5*time.Second)
	serverU, _ := newUpgrader(t, 5*time.Second)
	stranger, err := identity.Generate()
	require.NoError(t, err)
	rawC, rawS := tcpPair(t)

	go func() {
		_, _ = serverU.Upgrade(context.Background(), rawS, DirInbound, types.EmptyPeerID, nil, nil)
	}()

	_, err = clientU.Upgrade(context.Background(), rawC, DirOutbound, stranger.PeerID(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrHandshakeFailed))
	assert.True(t, errors.Is(err, noise.ErrPeerIDMismatch))
}

func TestUpgrade_SilentPeerTimesOut(t *testing.T) {
	clientU, _ := newUpgrader(t, 200*time.Millisecond)
	rawC, _ := tcpPair(t)

	start := time.Now()
	_, err := clientU.Upgrade(context.Background(), rawC, DirOutbound, types.EmptyPeerID, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNew_RequiresSecurity(t *testing.T) {
	_, err := New(nil, time.Second)
	assert.ErrorIs(t, err, ErrNilSecurity)
}
