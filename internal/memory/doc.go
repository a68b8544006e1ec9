// Package memory 实现分布式记忆协调器
//
// 记忆条目按规范 JSON 序列化后存入内容存储，得到的 CID 记录在本地 SQLite
// 索引中（id -> CID 与可过滤的列）。协调器通过 Backend 接口工作：
//
//   - LocalBackend: 只有本地内容存储与索引
//   - PeerBackedBackend: 额外公告提供者、向提供者拉取缺失内容、经 pubsub
//     主题 lumos/memory/query/v1 做分布式查询
//
// 同一 ID 的多个版本以 (UpdatedAt, Version) 决定新旧，索引和分布式查询
// 合并都只保留最新版本。
package memory

import "github.com/louloulin/lumos.ai-sub002/internal/util/logger"

var log = logger.Logger("memory")
