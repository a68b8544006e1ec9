// Package engine 定义存储引擎接口
package engine

// Engine 键值存储引擎
//
// 所有方法并发安全；Get 返回的切片由调用方持有。
type Engine interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)

	// NewPrefixIterator 按字节序遍历指定前缀下的键
	NewPrefixIterator(prefix []byte) Iterator

	// Start 启动后台任务（value log GC）
	Start() error
	Close() error

	Stats() Stats
}

// Iterator 迭代器
//
//	it := eng.NewPrefixIterator(prefix)
//	defer it.Close()
//	for it.First(); it.Valid(); it.Next() { ... }
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Close()
	Error() error
}

// Stats 引擎统计
type Stats struct {
	LSMSize    int64 `json:"lsm_size"`
	VlogSize   int64 `json:"vlog_size"`
	NumReads   int64 `json:"num_reads"`
	NumWrites  int64 `json:"num_writes"`
	NumDeletes int64 `json:"num_deletes"`
}
