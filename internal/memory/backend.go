package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/contentstore"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Backend 记忆后端
//
// 协调器只依赖这个接口；LocalBackend 只做本地存储，PeerBackedBackend
// 在其上加入提供者公告、远端拉取与分布式查询。构造时二选一。
type Backend interface {
	// Name 后端名称，与配置中的 backend 取值一致
	Name() string

	// Save 本地持久化条目，返回内容 CID；返回前条目已可在本地检索
	Save(ctx context.Context, item *MemoryItem) (types.CID, error)

	// Load 按 ID 读取，不存在返回 ErrNotFound
	Load(ctx context.Context, id string) (*MemoryItem, error)

	// Head 本地索引中 id 的当前版本，不存在返回 ErrNotFound；不访问网络
	Head(ctx context.Context, id string) (time.Time, uint64, error)

	// Search 查询
	Search(ctx context.Context, f Filter, scope Scope) (*QueryResult, error)

	// PutContent 存储原始内容
	PutContent(ctx context.Context, data []byte) (types.CID, error)

	// GetContent 读取原始内容，不存在返回 ErrNotFound
	GetContent(ctx context.Context, c types.CID) ([]byte, error)

	// FindProviders 查找能提供 c 的节点
	FindProviders(ctx context.Context, c types.CID) ([]types.AddrInfo, error)

	Close() error
}

// LocalBackend 内容存储 + SQLite 索引
type LocalBackend struct {
	store    *contentstore.Store
	index    *Index
	maxItems int
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend 创建本地后端，maxItems 为单次查询上限
func NewLocalBackend(store *contentstore.Store, index *Index, maxItems int) *LocalBackend {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &LocalBackend{store: store, index: index, maxItems: maxItems}
}

// Name 后端名称
func (b *LocalBackend) Name() string { return config.MemoryBackendLocal }

// Save 写入内容存储与索引
//
// 本地已有同 ID 且不旧于 item 的版本时返回 ErrStaleVersion，索引不变。
//
// 索引中已有更新的版本时，内容仍会写入，但索引保持指向较新的版本。
func (b *LocalBackend) Save(ctx context.Context, item *MemoryItem) (types.CID, error) {
	if err := item.Validate(); err != nil {
		return types.UndefCID, err
	}
	data, err := item.Marshal()
	if err != nil {
		return types.UndefCID, fmt.Errorf("marshal %s: %w", item.ID, err)
	}
	c, err := b.store.Put(data)
	if err != nil {
		return types.UndefCID, fmt.Errorf("store %s: %w", item.ID, err)
	}
	norm := item.Clone()
	norm.normalize()
	ok, err := b.index.Put(ctx, norm, c)
	if err != nil {
		return types.UndefCID, fmt.Errorf("index %s: %w", item.ID, err)
	}
	if !ok {
		return types.UndefCID, fmt.Errorf("%w: %s version %d", ErrStaleVersion, item.ID, item.Version)
	}
	return c, nil
}

// Head 本地索引中的当前版本
func (b *LocalBackend) Head(ctx context.Context, id string) (time.Time, uint64, error) {
	e, err := b.index.Lookup(ctx, id)
	if err != nil {
		return time.Time{}, 0, err
	}
	return e.UpdatedAt.UTC(), e.Version, nil
}

// Load 索引 -> 内容存储
func (b *LocalBackend) Load(ctx context.Context, id string) (*MemoryItem, error) {
	e, err := b.index.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := b.store.Get(e.CID)
	if err != nil {
		return nil, err
	}
	return UnmarshalItem(data)
}

// Search 只查本地；本后端没有网络，Distributed 与 Local 相同
func (b *LocalBackend) Search(ctx context.Context, f Filter, _ Scope) (*QueryResult, error) {
	items, err := b.searchLocal(ctx, f)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Items: items}, nil
}

func (b *LocalBackend) limit(f Filter) int {
	if f.Limit > 0 && f.Limit < b.maxItems {
		return f.Limit
	}
	return b.maxItems
}

func (b *LocalBackend) searchLocal(ctx context.Context, f Filter) ([]*MemoryItem, error) {
	entries, err := b.index.Query(ctx, f, b.limit(f))
	if err != nil {
		return nil, err
	}
	items := make([]*MemoryItem, 0, len(entries))
	for _, e := range entries {
		data, err := b.store.Get(e.CID)
		if errors.Is(err, types.ErrNotFound) {
			// 只有索引、正文尚未拉取到本地
			continue
		}
		if err != nil {
			return nil, err
		}
		it, err := UnmarshalItem(data)
		if err != nil {
			log.Warn("本地条目损坏", "id", e.ID, "error", err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// PutContent 写入内容存储
func (b *LocalBackend) PutContent(_ context.Context, data []byte) (types.CID, error) {
	return b.store.Put(data)
}

// GetContent 只读本地
func (b *LocalBackend) GetContent(_ context.Context, c types.CID) ([]byte, error) {
	return b.store.Get(c)
}

// FindProviders 本地后端不知道其他节点，总是返回空
func (b *LocalBackend) FindProviders(context.Context, types.CID) ([]types.AddrInfo, error) {
	return nil, nil
}

// Close 关闭索引
func (b *LocalBackend) Close() error {
	return b.index.Close()
}
