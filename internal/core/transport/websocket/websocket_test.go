package websocket

import (
	"bytes"
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
	assert.True(t, tr.CanDial(ma.StringCast("/ip4/127.0.0.1/tcp/4002/ws")))
	assert.True(t, tr.CanDial(ma.StringCast("/dns4/example.com/tcp/443/ws")))
	assert.False(t, tr.CanDial(ma.StringCast("/ip4/127.0.0.1/tcp/4002")))
}

func TestTransport_StreamAcrossMessages(t *testing.T) {
	tr := New()
	defer tr.Close()

	l, err := tr.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0/ws"))
	require.NoError(t, err)
	assert.Contains(t, l.Multiaddr().String(), "/ws")

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

	// 两条消息按字节流读取
	_, err = c.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = c.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, len("hello world"))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("hello world"), buf))
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	tr := New()
	l, err := tr.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0/ws"))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errc <- err
	}()
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept not unblocked")
	}
}
