// Package upgrader 把原始连接升级为加密、多路复用的连接
//
// 升级顺序：
//
//	multistream-select /noise -> Noise XX 握手 -> multistream-select /yamux/1.0.0 -> yamux 会话
//
// 协商和握手阶段的失败统一归类为 types.ErrHandshakeFailed，
// 超过截止时间归类为 types.ErrTimeout。
package upgrader
