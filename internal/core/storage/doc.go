// Package storage 提供节点共用的持久化存储
//
// 结构分三层：
//
//	engine        存储引擎接口与错误
//	engine/badger BadgerDB 实现（磁盘或内存模式）
//	kv            带前缀隔离的键值视图，各组件各自持有一个前缀
//
// 前缀分配：
//
//	c/   内容块（contentstore）
//	p/   节点表快照（peerstore）
package storage
