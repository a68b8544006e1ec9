package nat

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC     fx.Lifecycle
	Swarm  *swarm.Swarm
	Config *config.Config `optional:"true"`
}

// Module 返回 fx 模块
//
// 未启用端口映射时提供 nil，ExternalAddrs 返回空。
func Module() fx.Option {
	return fx.Module("nat",
		fx.Provide(ProvideMapper),
	)
}

// ProvideMapper 创建映射器，在 swarm 开始监听后映射端口
func ProvideMapper(p Params) *Mapper {
	cfg := config.DefaultNATConfig()
	if p.Config != nil {
		cfg = p.Config.NAT
	}
	if !cfg.EnablePortMap {
		return nil
	}
	m := NewMapper(cfg)
	p.Swarm.AddAddrSource(m.ExternalAddrs)
	started := make(chan struct{})
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 网关探测可能很慢，不阻塞启动
			go func() {
				defer close(started)
				if err := m.Start(p.Swarm.ListenAddrs()); err != nil {
					log.Warn("NAT-PMP 不可用", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-started:
			case <-ctx.Done():
				return ctx.Err()
			}
			return m.Close()
		},
	})
	return m
}
