package relay

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// limiterTableSize 保留速率状态的来源节点数
const limiterTableSize = 1024

// Limiter 按来源节点限速并限制总电路数
type Limiter struct {
	perSecond rate.Limit
	burst     int
	max       int

	table *lru.Cache[types.PeerID, *rate.Limiter]

	mu     sync.Mutex
	active int
}

// NewLimiter 创建限制器
func NewLimiter(perSecond float64, burst, maxCircuits int) *Limiter {
	table, _ := lru.New[types.PeerID, *rate.Limiter](limiterTableSize)
	return &Limiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		max:       maxCircuits,
		table:     table,
	}
}

// Allow 检查来源速率，成功时不占用电路
func (l *Limiter) Allow(src types.PeerID) bool {
	lim, ok := l.table.Get(src)
	if !ok {
		lim = rate.NewLimiter(l.perSecond, l.burst)
		if prev, found, _ := l.table.PeekOrAdd(src, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}

// Acquire 占用一条电路，达到上限返回 false
func (l *Limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.max {
		return false
	}
	l.active++
	return true
}

// Release 释放电路
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
}

// Active 当前电路数
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
