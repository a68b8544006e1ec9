package dht

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// ============================================================================
//                              提供者记录
// ============================================================================

// ProviderStore 本地保存的提供者记录
//
// 记录按 CID 分组，同一提供者重复登记只刷新过期时间。
type ProviderStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	records map[string]map[types.PeerID]types.ProviderRecord
}

// NewProviderStore 创建提供者存储
func NewProviderStore(clk clock.Clock, ttl time.Duration) *ProviderStore {
	if clk == nil {
		clk = clock.New()
	}
	return &ProviderStore{
		clock:   clk,
		ttl:     ttl,
		records: make(map[string]map[types.PeerID]types.ProviderRecord),
	}
}

// Add 登记或刷新提供者
func (s *ProviderStore) Add(c types.CID, provider types.AddrInfo) types.ProviderRecord {
	rec := types.ProviderRecord{
		CID:      c,
		Provider: provider,
		Expiry:   s.clock.Now().Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := c.KeyString()
	set, ok := s.records[k]
	if !ok {
		set = make(map[types.PeerID]types.ProviderRecord)
		s.records[k] = set
	}
	if prev, ok := set[provider.ID]; ok && len(provider.Addrs) == 0 {
		rec.Provider.Addrs = prev.Provider.Addrs
	}
	set[provider.ID] = rec
	return rec
}

// Get 未过期的提供者，按 PeerID 排序
func (s *ProviderStore) Get(c types.CID) []types.ProviderRecord {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.records[c.KeyString()]
	out := make([]types.ProviderRecord, 0, len(set))
	for _, rec := range set {
		if !rec.Expired(now) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b types.ProviderRecord) int {
		if a.Provider.ID.Less(b.Provider.ID) {
			return -1
		}
		if b.Provider.ID.Less(a.Provider.ID) {
			return 1
		}
		return 0
	})
	return out
}

// Sweep 删除过期记录，返回删除条数
func (s *ProviderStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, set := range s.records {
		for id, rec := range set {
			if rec.Expired(now) {
				delete(set, id)
				removed++
			}
		}
		if len(set) == 0 {
			delete(s.records, k)
		}
	}
	return removed
}

// Len 记录总数，含尚未清理的过期记录
func (s *ProviderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.records {
		n += len(set)
	}
	return n
}

// ============================================================================
//                              入站限速
// ============================================================================

// limiterTableSize 保留速率状态的发送方数
const limiterTableSize = 1024

// senderLimiter 按发送方限速
type senderLimiter struct {
	limit rate.Limit
	burst int
	table *lru.Cache[types.PeerID, *rate.Limiter]
}

func newSenderLimiter(perSecond float64) *senderLimiter {
	table, _ := lru.New[types.PeerID, *rate.Limiter](limiterTableSize)
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &senderLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		table: table,
	}
}

func (l *senderLimiter) Allow(sender types.PeerID) bool {
	lim, ok := l.table.Get(sender)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.table.PeekOrAdd(sender, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}
