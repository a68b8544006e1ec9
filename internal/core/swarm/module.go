package swarm

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/security/noise"
	"github.com/louloulin/lumos.ai-sub002/internal/core/transport"
	"github.com/louloulin/lumos.ai-sub002/internal/core/transport/tcp"
	"github.com/louloulin/lumos.ai-sub002/internal/core/transport/websocket"
	"github.com/louloulin/lumos.ai-sub002/internal/core/upgrader"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// Params 模块依赖
type Params struct {
	fx.In

	Identity  *identity.Identity
	Peerstore *peerstore.Peerstore
	Config    *config.Config   `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
	Clock     clock.Clock      `optional:"true"`
}

// Module 返回 fx 模块
//
// OnStart 监听配置的地址，OnStop 关闭所有连接。
func Module() fx.Option {
	return fx.Module("swarm",
		fx.Provide(ProvideSwarm),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideSwarm 按配置组装传输、升级器与 swarm
func ProvideSwarm(p Params) (*Swarm, error) {
	cfg := config.DefaultTransportConfig()
	if p.Config != nil {
		cfg = p.Config.Transport
	}
	return NewFromConfig(p.Identity, p.Peerstore, cfg, WithMetrics(p.Metrics), WithClock(p.Clock))
}

// NewFromConfig 不经 fx 直接构造 swarm
func NewFromConfig(id *identity.Identity, ps *peerstore.Peerstore, cfg config.TransportConfig, opts ...Option) (*Swarm, error) {
	up, err := upgrader.New(noise.New(id), cfg.HandshakeTimeout.Std())
	if err != nil {
		return nil, err
	}
	var tpts []transport.Transport
	if cfg.EnableTCP {
		tpts = append(tpts, tcp.New())
	}
	if cfg.EnableWebSocket {
		tpts = append(tpts, websocket.New())
	}
	if len(tpts) == 0 {
		return nil, fmt.Errorf("%w: no transport enabled", transport.ErrNoTransport)
	}
	return New(up, ps, tpts, cfg, opts...), nil
}

type lifecycleInput struct {
	fx.In

	LC     fx.Lifecycle
	Swarm  *Swarm
	Config *config.Config `optional:"true"`
}

func registerLifecycle(in lifecycleInput) {
	cfg := config.DefaultTransportConfig()
	if in.Config != nil {
		cfg = in.Config.Transport
	}
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			addrs, err := types.ParseMultiaddrs(cfg.ListenAddrs)
			if err != nil {
				return err
			}
			return in.Swarm.Listen(addrs...)
		},
		OnStop: func(context.Context) error {
			return in.Swarm.Close()
		},
	})
}
