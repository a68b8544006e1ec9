package peerstore

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine/badger"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/kv"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func peerID(s string) types.PeerID {
	return types.PeerID(sha256.Sum256([]byte(s)))
}

func addr(t *testing.T, s string) types.Multiaddr {
	t.Helper()
	a, err := types.ParseMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestAddAddrs_Dedupe(t *testing.T) {
	ps := New(nil, 3)
	id := peerID("a")
	a1 := addr(t, "/ip4/127.0.0.1/tcp/1")
	a2 := addr(t, "/ip4/127.0.0.1/tcp/2")

	ps.AddAddrs(id, a1, a2, a1)
	assert.Len(t, ps.Addrs(id), 2)
	assert.True(t, ps.Has(id))
	assert.Equal(t, 1, ps.Len())

	ps.SetAddrs(id, []types.Multiaddr{a2})
	assert.Equal(t, []types.Multiaddr{a2}, ps.Addrs(id))

	ps.AddAddrs(types.EmptyPeerID, a1)
	assert.Equal(t, 1, ps.Len(), "空 ID 不入表")
}

// TestDialFailures_RemoveAfterBudget 所有地址超过失败上限后移除
func TestDialFailures_RemoveAfterBudget(t *testing.T) {
	ps := New(nil, 2)
	id := peerID("b")
	a1 := addr(t, "/ip4/127.0.0.1/tcp/1")
	a2 := addr(t, "/ip4/127.0.0.1/tcp/2")
	ps.AddAddrs(id, a1, a2)

	assert.False(t, ps.RecordDialFailure(id, a1))
	assert.False(t, ps.RecordDialFailure(id, a1))
	assert.Equal(t, a2, ps.Addrs(id)[0], "失败少的地址优先")

	assert.False(t, ps.RecordDialFailure(id, a2))
	ps.RecordDialSuccess(id, a2)
	assert.False(t, ps.RecordDialFailure(id, a2), "成功后计数清零")

	assert.True(t, ps.RecordDialFailure(id, a2))
	assert.False(t, ps.Has(id))
}

func TestDialFailures_ConnectedPeerKept(t *testing.T) {
	ps := New(nil, 1)
	id := peerID("c")
	a := addr(t, "/ip4/127.0.0.1/tcp/1")
	ps.AddAddrs(id, a)
	ps.SetConnected(id, true)

	assert.False(t, ps.RecordDialFailure(id, a))
	assert.True(t, ps.Has(id))
}

func TestMetaAndCapabilities(t *testing.T) {
	ps := New(nil, 3)
	relay := peerID("relay")
	plain := peerID("plain")

	ps.SetMeta(relay, []string{"/lumos/kad/1.0.0"}, "lumos/1.0", map[string]string{"relay": "true"})
	ps.SetMeta(plain, nil, "lumos/1.0", nil)

	info, ok := ps.Get(relay)
	require.True(t, ok)
	assert.Equal(t, "lumos/1.0", info.AgentVersion)
	assert.Equal(t, []string{"/lumos/kad/1.0.0"}, info.Protocols)

	info.Capabilities["relay"] = "false"
	assert.Equal(t, []types.PeerID{relay}, ps.PeersWithCapability("relay", "true"), "快照修改不影响表")
}

func TestPenalty(t *testing.T) {
	ps := New(nil, 3)
	id := peerID("bad")
	assert.Equal(t, 0, ps.Penalty(id))
	ps.Penalize(id)
	ps.Penalize(id)
	assert.Equal(t, 2, ps.Penalty(id))
}

func TestSweep(t *testing.T) {
	clk := clock.NewMock()
	ps := New(clk, 3)

	stale := peerID("stale")
	live := peerID("live")
	conn := peerID("conn")
	ps.AddAddrs(stale, addr(t, "/ip4/127.0.0.1/tcp/1"))
	ps.SetConnected(conn, true)

	clk.Add(2 * time.Hour)
	ps.MarkSeen(live)

	assert.Equal(t, 1, ps.Sweep(time.Hour))
	assert.False(t, ps.Has(stale))
	assert.True(t, ps.Has(live))
	assert.True(t, ps.Has(conn))
}

func TestPeersSorted(t *testing.T) {
	ps := New(nil, 3)
	for _, s := range []string{"x", "y", "z", "w"} {
		ps.MarkSeen(peerID(s))
	}
	ids := ps.Peers()
	require.Len(t, ids, 4)
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]))
	}
	assert.Len(t, ps.PeerInfos(), 4)
}

func TestSnapshot(t *testing.T) {
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	defer eng.Close()
	store := kv.New(eng, []byte(KeyPrefix))

	ps := New(nil, 3)
	id := peerID("saved")
	ps.AddAddrs(id, addr(t, "/ip4/10.0.0.1/tcp/4001"))
	ps.MarkSeen(peerID("no-addrs"))

	n, err := ps.Save(store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored := New(nil, 3)
	n, err = restored.Load(store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "/ip4/10.0.0.1/tcp/4001", restored.Addrs(id)[0].String())
}

func TestRunSweeper(t *testing.T) {
	clk := clock.NewMock()
	ps := New(clk, 3)
	ps.MarkSeen(peerID("old"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runSweeper(ctx, clk, ps, time.Minute, time.Minute)
	}()

	require.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return ps.Len() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
