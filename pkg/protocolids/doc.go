// Package protocolids 定义 lumos 网络所有协议 ID 的注册表
//
// 所有模块、测试和命令行工具引用协议 ID 时都应使用本包的常量。
//
// # 命名规范
//
//   - 系统协议: /lumos/{name}/{version}
//   - 传输升级协议（安全通道、多路复用）沿用通用名称: /noise, /yamux/1.0.0
package protocolids
