package memory

import (
	"slices"
	"strings"
	"time"
)

// Scope 查询范围
type Scope int

const (
	// ScopeLocal 只查本地索引
	ScopeLocal Scope = iota
	// ScopeDistributed 本地加上通过 pubsub 广播的远端查询
	ScopeDistributed
)

// String 指标与日志用名称
func (s Scope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeDistributed:
		return "distributed"
	default:
		return "unknown"
	}
}

// Filter 查询条件，各字段之间为与关系，空字段不参与过滤
type Filter struct {
	IDs        []string `json:"ids,omitempty"`
	// Text 内容子串，忽略 ASCII 大小写
	Text       string   `json:"text,omitempty"`
	// Tags 必须同时带有的标签
	Tags       []string `json:"tags,omitempty"`
	Kinds      []Kind   `json:"kinds,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	// Since/Until 按 UpdatedAt 过滤，闭区间
	Since         time.Time         `json:"since,omitempty"`
	Until         time.Time         `json:"until,omitempty"`
	MinImportance float64           `json:"min_importance,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	// Limit 返回条目上限，0 表示使用配置的默认上限
	Limit int `json:"limit,omitempty"`
}

// Match 单条判断，远端回复在合并前用它复核
func (f *Filter) Match(m *MemoryItem) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, m.ID) {
		return false
	}
	if f.Text != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(f.Text)) {
		return false
	}
	for _, t := range f.Tags {
		if !slices.Contains(m.Tags, t) {
			return false
		}
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, m.Kind) {
		return false
	}
	if f.ThreadID != "" && m.ThreadID != f.ThreadID {
		return false
	}
	if f.ResourceID != "" && m.ResourceID != f.ResourceID {
		return false
	}
	if !f.Since.IsZero() && m.UpdatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.UpdatedAt.After(f.Until) {
		return false
	}
	if m.Importance < f.MinImportance {
		return false
	}
	for k, v := range f.Metadata {
		if got, ok := m.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// QueryResult 查询结果
type QueryResult struct {
	Items []*MemoryItem

	// Incomplete 有预期的对端未在窗口内回复，结果可能不全
	Incomplete bool

	// Responders 回复了的远端节点数
	Responders int

	// Expected 发起时预期回复的直连节点数
	Expected int
}
