// Package lumosp2p 为 lumos 智能体提供 P2P 协作底座
//
// 一个节点把四件事放在同一个句柄上：
//
//   - 发现：Kademlia DHT 维护路由表，按节点 ID 或 CID 查找
//   - 连接：TCP / WebSocket 上的 Noise 加密与 yamux 多路复用，直连失败时经中继回退
//   - 发布订阅：基于兴趣转发的主题消息，同一发布者的消息按序到达
//   - 分布式记忆：内容寻址存储、提供者公告与跨节点的记忆查询
//
// # 快速开始
//
//	import lumosp2p "github.com/louloulin/lumos.ai-sub002"
//
//	node, err := lumosp2p.New(
//	    lumosp2p.WithListenAddrs("/ip4/0.0.0.0/tcp/4001"),
//	    lumosp2p.WithBootstrapPeers("/ip4/1.2.3.4/tcp/4001/p2p/Qm..."),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// 种子全部不可达时 Start 仍然成功，节点以隔离模式运行（Isolated 返回 true），
// 本地存取照常可用。
//
// # 层次结构
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│  入口层    Node  lumosp2p.New() / node.Start()                   │
//	├─────────────────────────────────────────────────────────────────┤
//	│  协议层    memory · pubsub · fetch · identify                    │
//	├─────────────────────────────────────────────────────────────────┤
//	│  发现层    dht · mdns                                            │
//	├─────────────────────────────────────────────────────────────────┤
//	│  核心层    swarm · upgrader(noise, yamux) · transport(tcp, ws)   │
//	│            relay · nat · peerstore · contentstore · storage     │
//	└─────────────────────────────────────────────────────────────────┘
//
// 各层组件通过 fx 组装，关闭时按构造的逆序停止。
//
// # 文件组织
//
//   - node.go: Node 结构与基础信息
//   - node_lifecycle.go: Start / Close
//   - node_network.go: 连接、发布订阅、内容寻址
//   - options.go: 函数式选项
//   - fx.go: 依赖注入组装
//   - errors.go / types.go: 对外的错误与类型别名
package lumosp2p
