package noise

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func handshakePair(t *testing.T, expected func(server *identity.Identity) types.PeerID) (*Conn, *Conn, error, error) {
	t.Helper()
	clientID, err := identity.Generate()
	require.NoError(t, err)
	serverID, err := identity.Generate()
	require.NoError(t, err)

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type res struct {
		c   *Conn
		err error
	}
	srv := make(chan res, 1)
	go func() {
		c, err := New(serverID).SecureInbound(ctx, b)
		if err != nil {
			b.Close()
		}
		srv <- res{c, err}
	}()

	cc, cerr := New(clientID).SecureOutbound(ctx, a, expected(serverID))
	if cerr != nil {
		a.Close()
	}
	r := <-srv
	return cc, r.c, cerr, r.err
}

func TestHandshake_MutualIdentity(t *testing.T) {
	var serverPeer types.PeerID
	client, server, cerr, serr := handshakePair(t, func(s *identity.Identity) types.PeerID {
		serverPeer = s.PeerID()
		return serverPeer
	})
	require.NoError(t, cerr)
	require.NoError(t, serr)

	assert.Equal(t, serverPeer, client.RemotePeer())
	assert.Equal(t, client.LocalPeer(), server.RemotePeer())
	assert.Equal(t, server.LocalPeer(), client.RemotePeer())
}

func TestHandshake_PeerMismatch(t *testing.T) {
	other, err := identity.Generate()
	require.NoError(t, err)

	_, _, cerr, _ := handshakePair(t, func(*identity.Identity) types.PeerID {
		return other.PeerID()
	})
	require.Error(t, cerr)
	assert.True(t, errors.Is(cerr, ErrPeerIDMismatch))
}

func TestConn_LargeWriteIsChunked(t *testing.T) {
	client, server, cerr, serr := handshakePair(t, func(*identity.Identity) types.PeerID { return types.EmptyPeerID })
	require.NoError(t, cerr)
	require.NoError(t, serr)

	payload := bytes.Repeat([]byte("lumos"), 50000)
	go func() {
		_, _ = client.Write(payload)
	}()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestVerifyPayload_RejectsForeignStaticKey(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	pub, err := ed25519ToCurve25519Public(id.PublicKey())
	require.NoError(t, err)

	payload, err := encodePayload(id, pub)
	require.NoError(t, err)

	got, err := verifyPayload(payload, pub)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), got)

	forged := bytes.Repeat([]byte{7}, 32)
	_, err = verifyPayload(payload, forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = verifyPayload([]byte{0xff}, pub)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
