// Package peerstore 维护已知节点表
//
// 节点表是一个以 PeerID 为键的扁平表，条目之间不互相引用。
// 表本身不做任何 I/O；持久化快照通过 kv.Store 显式保存与加载。
//
// 生命周期：
//   - 首次握手成功或经 DHT 发现时创建条目
//   - 某节点所有已知地址的连续拨号失败都超过上限后移除
//   - 周期清理移除长时间未见且未连接的条目
package peerstore
