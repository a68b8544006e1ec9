package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine/badger"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	e, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestStore_PrefixIsolation(t *testing.T) {
	eng := newEngine(t)
	a := New(eng, []byte("a/"))
	b := New(eng, []byte("b/"))

	require.NoError(t, a.Put([]byte("k"), []byte("va")))
	require.NoError(t, b.Put([]byte("k"), []byte("vb")))

	v, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("va"), v)

	raw, err := eng.Get([]byte("b/k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("vb"), raw)

	require.NoError(t, a.Delete([]byte("k")))
	ok, err := b.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ScanKeysCount(t *testing.T) {
	s := New(newEngine(t), []byte("x/"))
	for _, k := range []string{"1", "2", "3"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}

	keys, err := s.Keys(nil)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, keys)

	n, err := s.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var seen int
	require.NoError(t, s.PrefixScan(nil, func(_, _ []byte) bool {
		seen++
		return false
	}))
	assert.Equal(t, 1, seen)
}

func TestStore_JSON(t *testing.T) {
	s := New(newEngine(t), []byte("j/"))

	type rec struct {
		Name string
		N    int
	}
	require.NoError(t, s.PutJSON([]byte("r"), rec{"a", 1}))

	var got rec
	require.NoError(t, s.GetJSON([]byte("r"), &got))
	assert.Equal(t, rec{"a", 1}, got)

	require.NoError(t, s.Put([]byte("bad"), []byte("{")))
	assert.ErrorIs(t, s.GetJSON([]byte("bad"), &got), engine.ErrCorrupted)
	assert.ErrorIs(t, s.GetJSON([]byte("missing"), &got), engine.ErrNotFound)
}
