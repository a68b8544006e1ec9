package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	client, err := NewSession(a, false, nil)
	require.NoError(t, err)
	server, err := NewSession(b, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSession_OpenAccept(t *testing.T) {
	client, server := sessionPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan []byte, 1)
	go func() {
		st, err := server.AcceptStream()
		if err != nil {
			accepted <- nil
			return
		}
		defer st.Close()
		data, _ := io.ReadAll(st)
		accepted <- data
	}()

	st, err := client.OpenStream(ctx)
	require.NoError(t, err)
	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	select {
	case data := <-accepted:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not accepted")
	}
	assert.True(t, client.IsServer() == false)
	assert.True(t, server.IsServer())
}

func TestSession_CloseRejectsOpen(t *testing.T) {
	client, _ := sessionPair(t)
	require.NoError(t, client.Close())

	<-client.CloseChan()
	_, err := client.OpenStream(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewSession_NilConn(t *testing.T) {
	_, err := NewSession(nil, false, nil)
	assert.Error(t, err)
}
