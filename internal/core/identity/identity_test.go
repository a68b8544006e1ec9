package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/louloulin/lumos.ai-sub002/config"
)

// TestIdentity_PeerID PeerID 由公钥稳定派生
func TestIdentity_PeerID(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	again, err := New(id.PrivateKey())
	require.NoError(t, err)
	assert.Equal(t, id.PeerID(), again.PeerID())
	assert.Equal(t, PeerIDFromPublicKey(id.PublicKey()), id.PeerID())

	other, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, id.PeerID(), other.PeerID())
}

func TestIdentity_SignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	sig, err := id.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, Verify(id.PublicKey(), []byte("payload"), sig))
	assert.False(t, Verify(id.PublicKey(), []byte("other"), sig))
	assert.False(t, Verify(id.PublicKey(), []byte("payload"), sig[:10]))
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New(ed25519.PrivateKey([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestPEM_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.pem")

	id, err := Generate()
	require.NoError(t, err)
	require.NoError(t, id.SavePEM(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadPEM(path)
	require.NoError(t, err)
	assert.Equal(t, id.PeerID(), loaded.PeerID())
}

func TestLoadPEM_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPEM(filepath.Join(dir, "missing.pem"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = LoadPEM(bad)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pem")

	first, err := LoadOrGenerate(path, true)
	require.NoError(t, err)
	second, err := LoadOrGenerate(path, true)
	require.NoError(t, err)
	assert.Equal(t, first.PeerID(), second.PeerID(), "重启后 PeerID 不变")

	_, err = LoadOrGenerate(filepath.Join(t.TempDir(), "none.pem"), false)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ephemeral, err := LoadOrGenerate("", true)
	require.NoError(t, err)
	assert.False(t, ephemeral.PeerID().IsEmpty())
}

func TestModule(t *testing.T) {
	var id *Identity
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		Module(),
		fx.Populate(&id),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, id)
	assert.False(t, id.PeerID().IsEmpty())
}
