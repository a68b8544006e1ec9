package lumosp2p

import (
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/louloulin/lumos.ai-sub002/config"

	// Core Layer
	"github.com/louloulin/lumos.ai-sub002/internal/core/contentstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
	"github.com/louloulin/lumos.ai-sub002/internal/core/metrics"
	"github.com/louloulin/lumos.ai-sub002/internal/core/nat"
	"github.com/louloulin/lumos.ai-sub002/internal/core/peerstore"
	"github.com/louloulin/lumos.ai-sub002/internal/core/relay"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage"
	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"

	// Discovery Layer
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/dht"
	"github.com/louloulin/lumos.ai-sub002/internal/discovery/mdns"

	// Protocol Layer
	"github.com/louloulin/lumos.ai-sub002/internal/memory"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/fetch"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/identify"
	"github.com/louloulin/lumos.ai-sub002/internal/protocol/pubsub"
)

// fxLogEnv 设为 1 时输出 fx 的依赖注入日志
const fxLogEnv = "LUMOS_FX_LOG"

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Core Layer: Identity → Storage → Peerstore → Metrics → Swarm → Relay → NAT
//  2. Discovery Layer: DHT → mDNS
//  3. Protocol Layer: Identify → PubSub → ContentStore → Fetch → Memory
//
// 钩子按构造顺序登记，关闭时逆序执行：记忆协调器最先关闭，存储引擎最后关闭。
func buildFxApp(o *options, n *Node) (*fx.App, error) {
	if err := config.ValidateAll(o.cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.cfg),

		// Core Layer
		identity.Module(),
		storage.Module(),
		peerstore.Module(),
		metrics.Module(),
		swarm.Module(),
		relay.Module(),
		nat.Module(),

		// Discovery Layer
		dht.Module(),
		mdns.Module(),

		// Protocol Layer
		identify.Module(),
		pubsub.Module(),
		contentstore.Module(),
		fetch.Module(),
		memory.Module(),
	}

	if o.identity != nil {
		modules = append(modules, fx.Supply(fx.Annotated{
			Name:   "preset_identity",
			Target: o.identity,
		}))
	}

	modules = append(modules, o.fxOptions...)

	modules = append(modules,
		fx.Populate(
			&n.swarm,
			&n.dht,
			&n.relay,
			&n.mapper,
			&n.identify,
			&n.pubsub,
			&n.fetch,
			&n.memory,
			&n.metrics,
			&n.engine,
		),
		fx.WithLogger(fxLogger),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	return app, nil
}

// fxLogger 默认丢弃 fx 日志，避免干扰用户日志
func fxLogger() fxevent.Logger {
	if os.Getenv(fxLogEnv) == "1" {
		if l, err := zap.NewDevelopment(); err == nil {
			return &fxevent.ZapLogger{Logger: l}
		}
	}
	return &fxevent.ZapLogger{Logger: zap.NewNop()}
}
