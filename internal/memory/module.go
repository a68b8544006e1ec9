package memory

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/contentstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/fetch"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
)

// Params 模块依赖
type Params struct {
	fx.In

	LC      fx.Lifecycle
	Store   *contentstore.Store
	Swarm   *swarm.Swarm
	DHT     *dht.DHT
	Fetch   *fetch.Service
	PubSub  *pubsub.Router
	Config  *config.Config   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
	Clock   clock.Clock      `optional:"true"`
}

// Module 返回 fx 模块
func Module() fx.Option {
	return fx.Module("memory",
		fx.Provide(ProvideCoordinator),
	)
}

// ProvideCoordinator 按配置选择后端并创建协调器
func ProvideCoordinator(p Params) (*Coordinator, error) {
	cfg := config.NewConfig()
	if p.Config != nil {
		cfg = p.Config
	}

	index, err := OpenIndex(cfg.Storage.IndexPath())
	if err != nil {
		return nil, err
	}
	local := NewLocalBackend(p.Store, index, cfg.Memory.MaxQueryResults)

	var (
		backend Backend = local
		peer    *PeerBackedBackend
	)
	if cfg.Memory.Backend == config.MemoryBackendPeer {
		peer = NewPeerBackedBackend(local, Network{
			Swarm:  p.Swarm,
			DHT:    p.DHT,
			Fetch:  p.Fetch,
			PubSub: p.PubSub,
		}, cfg.Memory, cfg.ReprovideInterval().Std(), WithMetrics(p.Metrics), WithClock(p.Clock))
		backend = peer
	}
	log.Info("记忆后端", "backend", backend.Name(), "index", cfg.Storage.IndexPath())

	c := NewCoordinator(backend, p.Metrics, p.Clock)
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if peer != nil {
				return peer.Start()
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}
