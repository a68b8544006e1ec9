package fetch

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/internal/core/contentstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC      fx.Lifecycle
	Swarm   *swarm.Swarm
	Store   *contentstore.Store
	Metrics *metrics.Metrics `optional:"true"`
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("fetch",
		fx.Provide(ProvideService),
	)
}

// ProvideService 以本地内容存储提供服务端
func ProvideService(p Params) *Service {
	s := New(p.Swarm, p.Store, p.Metrics)
	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return s
}
