// Package contentstore 提供本地内容寻址存储
//
// 内容块以 CID 为键持久化在共享 BadgerDB 的 "c/" 前缀下。
// 本包不发起任何网络活动；远端拉取由记忆协调器负责。
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/kv"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

var log = logger.Logger("core.contentstore")

// KeyPrefix 内容块在引擎中的前缀
const KeyPrefix = "c/"

// stripes 写锁分片数
const stripes = 64

// Store 内容寻址存储
//
// 读操作可并发；同一 CID 的写入经分片锁串行化。
type Store struct {
	kv      *kv.Store
	metrics *metrics.Metrics

	locks [stripes]sync.Mutex

	count atomic.Int64
	size  atomic.Int64
}

// New 创建内容存储，并统计已有内容
func New(eng engine.Engine, m *metrics.Metrics) (*Store, error) {
	s := &Store{
		kv:      kv.New(eng, []byte(KeyPrefix)),
		metrics: m,
	}
	err := s.kv.PrefixScan(nil, func(_, value []byte) bool {
		s.count.Add(1)
		s.size.Add(int64(len(value)))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan content store: %w", err)
	}
	return s, nil
}

func (s *Store) lockFor(c types.CID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(c.Hash())
	return &s.locks[h.Sum32()%stripes]
}

// Put 计算 CID 并持久化内容
//
// 幂等：相同字节重复写入返回相同 CID，不产生第二份存储。
func (s *Store) Put(data []byte) (types.CID, error) {
	c, err := types.ComputeCID(data)
	if err != nil {
		return types.UndefCID, err
	}
	if err := s.put(c, data); err != nil {
		return types.UndefCID, err
	}
	return c, nil
}

// PutVerified 写入声明为 c 的内容，校验失败返回 ErrInconsistent
func (s *Store) PutVerified(c types.CID, data []byte) error {
	if err := types.VerifyCID(c, data); err != nil {
		s.metrics.Content("inconsistent")
		return err
	}
	return s.put(c, data)
}

func (s *Store) put(c types.CID, data []byte) error {
	mu := s.lockFor(c)
	mu.Lock()
	defer mu.Unlock()

	key := c.Bytes()
	exists, err := s.kv.Has(key)
	if err != nil {
		return fmt.Errorf("put %s: %w", c, err)
	}
	if exists {
		return nil
	}
	if err := s.kv.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", c, err)
	}
	s.count.Add(1)
	s.size.Add(int64(len(data)))
	s.metrics.Content("put")
	log.Debug("内容已写入", "cid", c, "size", len(data))
	return nil
}

// Get 读取本地内容，不存在返回 types.ErrNotFound
func (s *Store) Get(c types.CID) ([]byte, error) {
	data, err := s.kv.Get(c.Bytes())
	if err != nil {
		if engine.IsNotFound(err) {
			s.metrics.Content("get_miss")
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", c, err)
	}
	s.metrics.Content("get_hit")
	return data, nil
}

// Has 是否存在
func (s *Store) Has(c types.CID) (bool, error) {
	return s.kv.Has(c.Bytes())
}

// Delete 删除内容，CID 不存在时返回 false
func (s *Store) Delete(c types.CID) (bool, error) {
	mu := s.lockFor(c)
	mu.Lock()
	defer mu.Unlock()

	key := c.Bytes()
	data, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", c, err)
	}
	if err := s.kv.Delete(key); err != nil {
		return false, fmt.Errorf("delete %s: %w", c, err)
	}
	s.count.Add(-1)
	s.size.Add(-int64(len(data)))
	return true, nil
}

// Keys 返回所有本地 CID，用于重新公告
func (s *Store) Keys(ctx context.Context) ([]types.CID, error) {
	var (
		out     []types.CID
		scanErr error
	)
	err := s.kv.PrefixScan(nil, func(key, _ []byte) bool {
		if ctx.Err() != nil {
			scanErr = ctx.Err()
			return false
		}
		c, err := types.CIDFromBytes(key)
		if err != nil {
			log.Warn("跳过损坏的内容键", "error", err)
			return true
		}
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// Count 内容块数量
func (s *Store) Count() int64 {
	return s.count.Load()
}

// Size 内容总字节数
func (s *Store) Size() int64 {
	return s.size.Load()
}
