// Package metrics 提供节点级 Prometheus 指标
//
// 每个节点持有独立的 prometheus.Registry，同一进程内的多个节点互不干扰。
// 外部 HTTP 导出器通过 Node.MetricsRegistry() 取得 Registry 后自行挂载。
//
// 所有记录方法对 nil 接收者安全，禁用指标时组件持有 nil 即可。
package metrics
