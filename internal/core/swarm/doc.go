// Package swarm 管理到其他节点的连接与流
//
// Swarm 负责：
//   - 按地址选择传输（TCP、WebSocket）拨号与监听
//   - 通过 upgrader 完成安全握手与多路复用
//   - 同一节点的并发拨号合并，失败按类型重试
//   - 直连全部失败时经中继回退一次
//   - 入站流的 multistream-select 协商与有界处理器池
//   - 空闲连接回收
//
// 拨号错误统一为 *DialError，可用 errors.Is 判断
// types.ErrUnreachable、types.ErrHandshakeFailed、types.ErrTimeout。
package swarm
