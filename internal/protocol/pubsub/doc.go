// Package pubsub 实现基于兴趣传播的发布订阅
//
// # 兴趣
//
// 节点向每个对端 P 公告它关心的主题：本地订阅的主题（跳数 0），以及其他对端
// 声明过的主题（跳数 +1，即转发兴趣）。新增兴趣立即公告，撤回与跳数增大在
// 下一个刷新周期发出。跳数超过上限的兴趣被丢弃，环路中的残留兴趣因此会在
// 有限个周期内消失。
//
// # 投递
//
// Publish 先同步投递给本地订阅者，再转发给声明了该主题兴趣的对端。接收方
// 通过去重缓存丢弃重复消息，继续向其他感兴趣的对端转发。
//
// 每个对端一条长期出站流，由单独的写协程按 FIFO 顺序发送，因此同一发布者
// 的消息在一条链路上保持发送顺序。不同路径可能导致乱序，接收方对每个发布者
// 维护按序号重排的缓冲，缺口最多等待 HoldBack 后放行。
//
// 语义是至少一次：对端断线期间发布的消息可能丢失。
package pubsub
