package identify

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/relay"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC     fx.Lifecycle
	Swarm  *swarm.Swarm
	Config *config.Config  `optional:"true"`
	Relay  *relay.Service `optional:"true"`
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("identify",
		fx.Provide(ProvideService),
	)
}

// ProvideService 创建 identify 服务
//
// 开启中继服务端的节点通告 relay=true，客户端据此挑选中继。
func ProvideService(p Params) *Service {
	cfg := config.DefaultIdentityConfig()
	if p.Config != nil {
		cfg = p.Config.Identity
	}
	s := New(p.Swarm, cfg.AgentVersion)
	for k, v := range cfg.Capabilities {
		s.SetCapability(k, v)
	}
	if p.Relay != nil && p.Relay.Server != nil {
		s.SetCapability(relay.CapabilityKey, "true")
	}
	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return s
}
