package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Kind 记忆类型
type Kind string

// 常用记忆类型，调用方也可以使用自定义值
const (
	KindMessage  Kind = "message"
	KindFact     Kind = "fact"
	KindSummary  Kind = "summary"
	KindWorking  Kind = "working"
	KindSemantic Kind = "semantic"
)

// ErrInvalidItem 条目不合法
var ErrInvalidItem = errors.New("memory: invalid item")

// ErrStaleVersion 本地已有同 ID 且不旧的版本
var ErrStaleVersion = errors.New("memory: stale version")

// MemoryItem 一条记忆
//
// 序列化结果是确定的：字段顺序固定，map 按键排序，时间统一为 UTC。
// 同一逻辑 ID 的不同版本以 (UpdatedAt, Version) 比较新旧。
type MemoryItem struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Importance float64           `json:"importance,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Version    uint64            `json:"version"`
}

// NewID 生成按时间排序的 ULID
func NewID() string {
	return ulid.Make().String()
}

// Clone 深拷贝
func (m *MemoryItem) Clone() *MemoryItem {
	c := *m
	c.Metadata = maps.Clone(m.Metadata)
	c.Tags = slices.Clone(m.Tags)
	c.Embedding = slices.Clone(m.Embedding)
	return &c
}

// Validate 检查必填字段
func (m *MemoryItem) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if _, err := ulid.ParseStrict(m.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a ULID", ErrInvalidItem, m.ID)
	}
	if m.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidItem)
	}
	if m.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: zero updated_at", ErrInvalidItem)
	}
	return nil
}

// normalize 统一时间与标签形式，保证序列化确定
func (m *MemoryItem) normalize() {
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if len(m.Tags) > 0 {
		slices.Sort(m.Tags)
		m.Tags = slices.Compact(m.Tags)
	}
}

// Marshal 规范化序列化
func (m *MemoryItem) Marshal() ([]byte, error) {
	c := m.Clone()
	c.normalize()
	return json.Marshal(c)
}

// CID 规范化序列化后的内容标识
func (m *MemoryItem) CID() (types.CID, error) {
	b, err := m.Marshal()
	if err != nil {
		return types.UndefCID, err
	}
	return types.ComputeCID(b)
}

// UnmarshalItem 解析并校验
func UnmarshalItem(b []byte) (*MemoryItem, error) {
	m := &MemoryItem{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewerThan m 是否比 other 新：先比 UpdatedAt，再比 Version
func (m *MemoryItem) NewerThan(other *MemoryItem) bool {
	if !m.UpdatedAt.Equal(other.UpdatedAt) {
		return m.UpdatedAt.After(other.UpdatedAt)
	}
	return m.Version > other.Version
}

// mergeNewest 按 ID 去重，保留最新版本
func mergeNewest(into map[string]*MemoryItem, items ...*MemoryItem) {
	for _, it := range items {
		if cur, ok := into[it.ID]; !ok || it.NewerThan(cur) {
			into[it.ID] = it
		}
	}
}

// sortItems 最近更新的在前，同时刻按 ID
func sortItems(items []*MemoryItem) {
	slices.SortFunc(items, func(a, b *MemoryItem) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
