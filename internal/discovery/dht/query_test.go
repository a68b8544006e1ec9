package dht

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// simNet 内存中的拓扑：每个节点返回它知道的节点
type simNet struct {
	mu     sync.Mutex
	known  map[types.PeerID][]types.PeerID
	broken map[types.PeerID]bool
	asked  []types.PeerID
}

func (n *simNet) query(_ context.Context, p types.PeerID) ([]types.PeerID, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asked = append(n.asked, p)
	if n.broken[p] {
		return nil, false, errors.New("unreachable")
	}
	return n.known[p], false, nil
}

func newTestLookup(target types.PeerID, maxHops int, fn queryFunc) *lookup {
	return &lookup{
		target:  types.KeyForPeer(target),
		k:       20,
		alpha:   3,
		maxHops: maxHops,
		query:   fn,
		self:    rawID(0x00),
		peers:   make(map[types.PeerID]*candidate),
		stats:   LookupStats{Kind: "test"},
	}
}

func TestLookup_ConvergesOnTarget(t *testing.T) {
	a, b, c, target := rawID(0xF0), rawID(0x70), rawID(0x30), rawID(0x10)
	net := &simNet{known: map[types.PeerID][]types.PeerID{
		a:      {b},
		b:      {c, a},
		c:      {target},
		target: {c},
	}}

	l := newTestLookup(target, 10, net.query)
	closest := l.run(context.Background(), []types.PeerID{a})

	require.NotEmpty(t, closest)
	assert.Equal(t, target, closest[0])
	assert.Equal(t, StateDone, l.state)
	assert.Equal(t, 4, l.stats.Hops)
	assert.Equal(t, 4, l.stats.Queried)
	assert.Zero(t, l.stats.Failed)
}

func TestLookup_SkipsUnresponsivePeer(t *testing.T) {
	a, dead, c, target := rawID(0xF0), rawID(0x11), rawID(0x30), rawID(0x10)
	net := &simNet{
		known: map[types.PeerID][]types.PeerID{
			a: {dead, c},
			c: {target},
		},
		broken: map[types.PeerID]bool{dead: true},
	}

	l := newTestLookup(target, 10, net.query)
	closest := l.run(context.Background(), []types.PeerID{a})

	assert.Contains(t, closest, target)
	assert.NotContains(t, closest, dead)
	assert.Equal(t, 1, l.stats.Failed)
	assert.Equal(t, StateDone, l.state)
}

func TestLookup_HopCeiling(t *testing.T) {
	chain := []types.PeerID{rawID(0xF0), rawID(0x70), rawID(0x30), rawID(0x18), rawID(0x10)}
	known := make(map[types.PeerID][]types.PeerID)
	for i := 0; i+1 < len(chain); i++ {
		known[chain[i]] = []types.PeerID{chain[i+1]}
	}
	net := &simNet{known: known}

	l := newTestLookup(rawID(0x10), 2, net.query)
	l.run(context.Background(), chain[:1])

	assert.Equal(t, 2, l.stats.Queried)
	assert.Equal(t, 2, l.stats.Hops)
	assert.ElementsMatch(t, chain[:2], net.asked)
}

func TestLookup_TimesOut(t *testing.T) {
	block := func(ctx context.Context, _ types.PeerID) ([]types.PeerID, bool, error) {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	l := newTestLookup(rawID(0x10), 10, block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	closest := l.run(ctx, []types.PeerID{rawID(0x80), rawID(0x40)})

	assert.Empty(t, closest)
	assert.Equal(t, StateTimedOut, l.state)
}

func TestLookup_StopsEarly(t *testing.T) {
	var calls int
	var mu sync.Mutex
	stop := func(context.Context, types.PeerID) ([]types.PeerID, bool, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []types.PeerID{rawID(0x20)}, true, nil
	}
	l := newTestLookup(rawID(0x10), 10, stop)
	l.alpha = 1
	closest := l.run(context.Background(), []types.PeerID{rawID(0x80)})

	assert.Equal(t, StateDone, l.state)
	assert.Equal(t, []types.PeerID{rawID(0x80)}, closest)
	assert.Equal(t, 1, calls)
}

func TestLookup_NoSeeds(t *testing.T) {
	l := newTestLookup(rawID(0x10), 10, nil)
	assert.Empty(t, l.run(context.Background(), nil))
	assert.Equal(t, StateDone, l.state)
}

func TestLookupState_String(t *testing.T) {
	assert.Equal(t, "converging", StateConverging.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
}
