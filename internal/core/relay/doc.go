// Package relay 实现经第三方节点转发的中继电路
//
// 协议：
//
//	源节点 --/lumos/relay/hop/1.0.0-->  中继  --/lumos/relay/stop/1.0.0--> 目标节点
//
// 源节点在 hop 流上请求连接目标；中继在 stop 流上通知目标，目标确认后
// 中继回复源节点并在两条流之间双向转发字节。之后双方把各自的流当作
// 原始连接，照常完成 Noise 握手与 yamux 升级，中继无法读取内容。
//
// 服务端按来源节点限速并限制同时存在的电路数。
package relay
