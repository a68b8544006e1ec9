package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_CanDial(t *testing.T) {
	tr := New()
	for addr, want := range map[string]bool{
		"/ip4/127.0.0.1/tcp/4001":    true,
		"/ip6/::1/tcp/4001":          true,
		"/dns4/example.com/tcp/4001": true,
		"/ip4/127.0.0.1/tcp/4001/ws": false,
		"/ip4/127.0.0.1/udp/4001":    false,
	} {
		a, err := ma.NewMultiaddr(addr)
		require.NoError(t, err)
		assert.Equal(t, want, tr.CanDial(a), addr)
	}
}

func TestTransport_DialListen(t *testing.T) {
	tr := New()
	defer tr.Close()

	l, err := tr.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	assert.NotEqual(t, "/ip4/127.0.0.1/tcp/0", l.Multiaddr().String())

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := tr.Dial(ctx, l.Multiaddr())
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.RemoteMultiaddr().Equal(l.Multiaddr()))
	_, err = c.Write([]byte("abc"))
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
}

func TestTransport_ClosedRejects(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Close())
	_, err := tr.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0"))
	assert.Error(t, err)
}
