package mdns

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
)

type lifecycleInput struct {
	fx.In

	LC     fx.Lifecycle
	Swarm  *swarm.Swarm
	DHT    *dht.DHT
	Config *config.Config `optional:"true"`
}

// Module 返回 fx 模块，未启用 EnableMDNS 时不做任何事
func Module() fx.Option {
	return fx.Module("mdns",
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(in lifecycleInput) {
	cfg := config.DefaultDiscoveryConfig()
	if in.Config != nil {
		cfg = in.Config.Discovery
	}
	if !cfg.EnableMDNS {
		return
	}

	svc := New(in.Swarm.LocalPeer(), cfg.MDNSService, cfg.MDNSInterval.Std(), in.Swarm.AdvertisedAddrs, in.DHT.AddPeer)
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 局域网发现失败不影响节点启动
			if err := svc.Start(); err != nil {
				log.Warn("mDNS 未启动", "error", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return svc.Close()
		},
	})
}
