package peerstore

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/kv"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

var log = logger.Logger("core.peerstore")

// Params 模块依赖
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
	Clock  clock.Clock    `optional:"true"`
}

// Module 返回 fx 模块
//
// OnStart 加载快照并启动周期清理，OnStop 保存快照。
func Module() fx.Option {
	return fx.Module("peerstore",
		fx.Provide(ProvidePeerstore),
		fx.Invoke(registerLifecycle),
	)
}

// ProvidePeerstore 创建节点表
func ProvidePeerstore(p Params) *Peerstore {
	cfg := config.DefaultPeerstoreConfig()
	if p.Config != nil {
		cfg = p.Config.Peerstore
	}
	return New(p.Clock, cfg.MaxDialFailures)
}

type lifecycleInput struct {
	fx.In

	LC        fx.Lifecycle
	Peerstore *Peerstore
	Engine    engine.Engine
	Config    *config.Config `optional:"true"`
	Clock     clock.Clock    `optional:"true"`
}

func registerLifecycle(in lifecycleInput) {
	cfg := config.DefaultPeerstoreConfig()
	if in.Config != nil {
		cfg = in.Config.Peerstore
	}
	clk := in.Clock
	if clk == nil {
		clk = clock.New()
	}
	store := kv.New(in.Engine, []byte(KeyPrefix))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	in.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			n, err := in.Peerstore.Load(store)
			if err != nil {
				log.Warn("加载节点表快照失败", "error", err)
			} else if n > 0 {
				log.Debug("已加载节点表快照", "peers", n)
			}
			go func() {
				defer close(done)
				runSweeper(ctx, clk, in.Peerstore, cfg.SweepInterval.Std(), cfg.MaxAge.Std())
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			<-done
			if _, err := in.Peerstore.Save(store); err != nil {
				log.Warn("保存节点表快照失败", "error", err)
			}
			return nil
		},
	})
}

// runSweeper 周期清理过期条目
func runSweeper(ctx context.Context, clk clock.Clock, ps *Peerstore, interval, maxAge time.Duration) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ps.Sweep(maxAge); n > 0 {
				log.Debug("已清理过期节点", "removed", n)
			}
		}
	}
}
