package metrics

import (
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
//
// 指标禁用时提供 nil，各组件的记录调用自动跳过。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideMetrics),
	)
}

// ProvideMetrics 按配置创建节点指标
func ProvideMetrics(p Params) *Metrics {
	cfg := config.DefaultMetricsConfig()
	if p.Config != nil {
		cfg = p.Config.Metrics
	}
	if !cfg.Enable {
		return nil
	}
	return NewIsolated(cfg.Namespace)
}
