// Package dht 实现 Kademlia 分布式哈希表
//
// 标识空间为 256 位，节点坐标即 PeerID 摘要，内容坐标为 CID 的 SHA-256。
// 距离使用 XOR 度量，距离相同时按原始标识字节序取较小者。
//
// 协议：
//   - 每个请求占用一条 /lumos/kad/1.0.0 流，请求与响应均为 JSON
//   - 帧格式为 4 字节大端长度前缀
//   - 消息类型 PING、FIND_NODE、ADD_PROVIDER、GET_PROVIDERS
//   - 每条请求都携带发送方的通告地址，接收方据此更新节点表
//
// 迭代查找：
//
//	Idle -> Querying -> Converging -> Done | TimedOut
//
// 每轮最多 alpha 个并发请求，无响应的节点被跳过，不会中止整个查找。
// 查找结果为空是正常结果，不是错误。
package dht
