package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	x, err := OpenIndex(inMemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func putItem(t *testing.T, x *Index, it *MemoryItem) types.CID {
	t.Helper()
	c, err := it.CID()
	require.NoError(t, err)
	_, err = x.Put(context.Background(), it, c)
	require.NoError(t, err)
	return c
}

func TestIndex_PutKeepsNewest(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	v1 := sampleItem()
	c1 := putItem(t, x, v1)

	v2 := v1.Clone()
	v2.UpdatedAt = v1.UpdatedAt.Add(time.Minute)
	v2.Tags = []string{"moved"}
	c2, err := v2.CID()
	require.NoError(t, err)
	applied, err := x.Put(ctx, v2, c2)
	require.NoError(t, err)
	assert.True(t, applied)

	// 旧版本到达得晚也不会覆盖
	applied, err = x.Put(ctx, v1, c1)
	require.NoError(t, err)
	assert.False(t, applied)

	e, err := x.Lookup(ctx, v1.ID)
	require.NoError(t, err)
	assert.True(t, e.CID.Equals(c2))
	assert.True(t, e.UpdatedAt.Equal(v2.UpdatedAt))

	// 标签随版本替换
	got, err := x.Query(ctx, Filter{Tags: []string{"infra"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = x.Query(ctx, Filter{Tags: []string{"moved"}}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err := x.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndex_LookupAndDelete(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	_, err := x.Lookup(ctx, NewID())
	assert.ErrorIs(t, err, types.ErrNotFound)

	it := sampleItem()
	putItem(t, x, it)
	ok, err := x.Delete(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = x.Delete(ctx, it.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestIndex_QueryAgreesWithMatch SQL 条件与 Filter.Match 语义一致
func TestIndex_QueryAgreesWithMatch(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	a := sampleItem()
	b := sampleItem()
	b.Kind = KindMessage
	b.Content = "deploy finished"
	b.Tags = []string{"deploy"}
	b.Metadata = nil
	b.Importance = 0.1
	b.ThreadID = "thread-2"
	b.UpdatedAt = a.UpdatedAt.Add(time.Hour)
	putItem(t, x, a)
	putItem(t, x, b)

	filters := []Filter{
		{},
		{IDs: []string{a.ID}},
		{Text: "RACK"},
		{Tags: []string{"infra", "build"}},
		{Tags: []string{"deploy"}},
		{Kinds: []Kind{KindMessage}},
		{ThreadID: "thread-1"},
		{ResourceID: "user-9"},
		{Since: a.UpdatedAt.Add(time.Minute)},
		{Until: a.UpdatedAt},
		{MinImportance: 0.5},
		{Metadata: map[string]string{"source": "chat"}},
		{Metadata: map[string]string{"source": "mail"}},
		{Kinds: []Kind{KindFact}, Text: "deploy"},
	}
	for i, f := range filters {
		got, err := x.Query(ctx, f, 10)
		require.NoError(t, err)
		var want []string
		for _, it := range []*MemoryItem{b, a} {
			if f.Match(it) {
				want = append(want, it.ID)
			}
		}
		var ids []string
		for _, e := range got {
			ids = append(ids, e.ID)
		}
		assert.Equal(t, want, ids, "filter #%d", i)
	}

	got, err := x.Query(ctx, Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID, "最近更新的在前")

	cids, err := x.CIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, cids, 2)
}

func TestIndex_PersistsOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "memory.db")

	x, err := OpenIndex(path)
	require.NoError(t, err)
	it := sampleItem()
	c := putItem(t, x, it)
	require.NoError(t, x.Close())

	x, err = OpenIndex(path)
	require.NoError(t, err)
	defer x.Close()
	e, err := x.Lookup(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, e.CID.Equals(c))
}
