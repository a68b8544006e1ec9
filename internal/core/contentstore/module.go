package contentstore

import (
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
)

// Params 模块依赖
type Params struct {
	fx.In

	Engine  engine.Engine
	Metrics *metrics.Metrics `optional:"true"`
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("contentstore",
		fx.Provide(func(p Params) (*Store, error) {
			return New(p.Engine, p.Metrics)
		}),
	)
}
