package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/engine/badger"
	"github.com/louloulin/lumos.ai-sub002/internal/core/storage/kv"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

var log = logger.Logger("core.storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// Module 返回 Storage Fx 模块
//
// 提供 engine.Engine；OnStart 启动 GC，OnStop 关闭引擎。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideEngine 根据统一配置创建存储引擎
func ProvideEngine(p Params) (engine.Engine, error) {
	cfg := config.DefaultStorageConfig()
	if p.Config != nil {
		cfg = p.Config.Storage
	}
	return NewEngine(cfg)
}

// NewEngine 根据存储配置创建引擎
func NewEngine(cfg config.StorageConfig) (engine.Engine, error) {
	var ecfg *engine.Config
	if cfg.InMemory {
		ecfg = engine.InMemoryConfig()
	} else {
		ecfg = engine.DefaultConfig(cfg.DBPath())
		if cfg.GCInterval > 0 {
			ecfg.GCInterval = cfg.GCInterval.Std()
		}
	}
	log.Debug("创建存储引擎", "path", ecfg.Path, "inMemory", ecfg.InMemory)

	eng, err := badger.New(ecfg)
	if err != nil {
		log.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}

// NewKVStore 创建带前缀的 KV 视图
func NewKVStore(eng engine.Engine, prefix string) *kv.Store {
	return kv.New(eng, []byte(prefix))
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				log.Error("存储引擎启动失败", "error", err)
				return err
			}
			log.Debug("存储引擎已启动")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				log.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			log.Debug("存储引擎已关闭")
			return nil
		},
	})
}
