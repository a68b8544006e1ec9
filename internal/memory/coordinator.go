package memory

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Coordinator 记忆协调器
type Coordinator struct {
	backend Backend
	metrics *metrics.Metrics
	clock   clock.Clock
}

// NewCoordinator 创建协调器
func NewCoordinator(b Backend, m *metrics.Metrics, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{backend: b, metrics: m, clock: clk}
}

// Backend 当前后端
func (c *Coordinator) Backend() Backend {
	return c.backend
}

// Store 保存条目并返回逻辑 ID
//
// 缺省字段被补全：ID 生成 ULID，Kind 为 message，CreatedAt/UpdatedAt 取当前
// 时间，Version 至少为 1。ID 已存在时视为更新：UpdatedAt 不早于上一版本，
// Version 为上一版本加一，因此读出、修改、再保存总会成为最新版本。
// 返回时条目已在本地持久化；提供者公告在后台进行。
func (c *Coordinator) Store(ctx context.Context, item *MemoryItem) (string, error) {
	if item == nil {
		return "", ErrInvalidItem
	}
	it := item.Clone()
	now := c.clock.Now().UTC()
	if it.ID == "" {
		it.ID = NewID()
	}
	if it.Kind == "" {
		it.Kind = KindMessage
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = now
	}
	if it.Version == 0 {
		it.Version = 1
	}
	if item.ID != "" {
		prevAt, prevVersion, err := c.backend.Head(ctx, it.ID)
		switch {
		case err == nil:
			bumpVersion(it, prevAt, prevVersion, now)
		case !errors.Is(err, types.ErrNotFound):
			return "", err
		}
	}

	cid, err := c.backend.Save(ctx, it)
	if err != nil {
		return "", err
	}
	c.metrics.Content("memory_store")
	log.Debug("已保存记忆", "id", it.ID, "cid", cid.String(), "version", it.Version)
	return it.ID, nil
}

// bumpVersion 让 it 比 (prevAt, prevVersion) 新
func bumpVersion(it *MemoryItem, prevAt time.Time, prevVersion uint64, now time.Time) {
	if !it.UpdatedAt.After(prevAt) {
		it.UpdatedAt = now
		if now.Before(prevAt) {
			it.UpdatedAt = prevAt
		}
	}
	if it.Version <= prevVersion {
		it.Version = prevVersion + 1
	}
}

// Retrieve 按 ID 读取，不存在返回 ErrNotFound
func (c *Coordinator) Retrieve(ctx context.Context, id string) (*MemoryItem, error) {
	it, err := c.backend.Load(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.metrics.Content("memory_miss")
		}
		return nil, err
	}
	c.metrics.Content("memory_hit")
	return it, nil
}

// Query 按范围查询
//
// 分布式查询在部分节点不可达时仍返回结果，通过 Incomplete 标记。
func (c *Coordinator) Query(ctx context.Context, f Filter, scope Scope) (*QueryResult, error) {
	res, err := c.backend.Search(ctx, f, scope)
	if err != nil {
		return nil, err
	}
	c.metrics.MemoryQuery(scope.String(), res.Incomplete)
	return res, nil
}

// StoreContent 存储原始内容
func (c *Coordinator) StoreContent(ctx context.Context, data []byte) (types.CID, error) {
	return c.backend.PutContent(ctx, data)
}

// GetContent 读取原始内容，必要时向提供者拉取
func (c *Coordinator) GetContent(ctx context.Context, cid types.CID) ([]byte, error) {
	return c.backend.GetContent(ctx, cid)
}

// FindProviders 查找内容提供者
func (c *Coordinator) FindProviders(ctx context.Context, cid types.CID) ([]types.AddrInfo, error) {
	return c.backend.FindProviders(ctx, cid)
}

// Close 关闭后端
func (c *Coordinator) Close() error {
	return c.backend.Close()
}
