package pubsub

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC      fx.Lifecycle
	Swarm   *swarm.Swarm
	Config  *config.Config   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("pubsub",
		fx.Provide(ProvideRouter),
	)
}

// ProvideRouter 创建路由器，OnStop 时关闭
func ProvideRouter(p Params) *Router {
	cfg := config.DefaultPubSubConfig()
	if p.Config != nil {
		cfg = p.Config.PubSub
	}
	r := New(p.Swarm, cfg, WithMetrics(p.Metrics))
	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return r.Close()
		},
	})
	return r
}
