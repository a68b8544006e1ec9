package dht

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Params 模块依赖
type Params struct {
	fx.In

	Swarm   *swarm.Swarm
	Config  *config.Config   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
	Clock   clock.Clock      `optional:"true"`
}

// Module 返回 fx 模块
//
// OnStart 只启动后台刷新；引导由节点在监听之后显式调用 Bootstrap。
func Module() fx.Option {
	return fx.Module("dht",
		fx.Provide(ProvideDHT),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideDHT 按配置创建 DHT
func ProvideDHT(p Params) *DHT {
	cfg := config.DefaultDiscoveryConfig()
	if p.Config != nil {
		cfg = p.Config.Discovery
	}
	return New(p.Swarm, cfg, WithMetrics(p.Metrics), WithClock(p.Clock))
}

func registerLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return d.Close()
		},
	})
}

// ParseSeeds 解析带 /p2p/<id> 的种子地址，同一节点的多个地址合并
func ParseSeeds(addrs []string) ([]types.AddrInfo, error) {
	mas, err := types.ParseMultiaddrs(addrs)
	if err != nil {
		return nil, err
	}
	index := make(map[types.PeerID]int)
	var out []types.AddrInfo
	for _, a := range mas {
		ai, err := types.AddrInfoFromP2PAddr(a)
		if err != nil {
			return nil, err
		}
		if i, ok := index[ai.ID]; ok {
			out[i].Addrs = append(out[i].Addrs, ai.Addrs...)
			continue
		}
		index[ai.ID] = len(out)
		out = append(out, ai)
	}
	return out, nil
}
