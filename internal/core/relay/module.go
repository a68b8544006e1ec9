package relay

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC     fx.Lifecycle
	Swarm  *swarm.Swarm
	Config *config.Config `optional:"true"`
}

// Service 按配置启用的中继客户端与服务端
type Service struct {
	Client *Client
	Server *Server
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideService),
	)
}

// ProvideService 注册中继协议处理器，OnStop 时注销
func ProvideService(p Params) (*Service, error) {
	cfg := config.DefaultRelayConfig()
	if p.Config != nil {
		cfg = p.Config.Relay
	}
	svc := &Service{}

	if cfg.EnableClient {
		addrs, err := types.ParseMultiaddrs(cfg.Relays)
		if err != nil {
			return nil, err
		}
		relays := make([]types.AddrInfo, 0, len(addrs))
		for _, a := range addrs {
			ai, err := types.AddrInfoFromP2PAddr(a)
			if err != nil {
				return nil, err
			}
			relays = append(relays, ai)
		}
		svc.Client = NewClient(p.Swarm, relays)
	}
	if cfg.EnableServer {
		svc.Server = NewServer(p.Swarm, cfg)
		log.Info("中继服务已启用", "max_circuits", cfg.MaxCircuits)
	}

	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			var err error
			if svc.Server != nil {
				err = multierr.Append(err, svc.Server.Close())
			}
			if svc.Client != nil {
				err = multierr.Append(err, svc.Client.Close())
			}
			return err
		},
	})
	return svc, nil
}
