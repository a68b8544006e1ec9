package identity

import (
	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

var log = logger.Logger("core.identity")

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config `optional:"true"`

	// Identity 外部直接注入的身份，优先于配置
	Identity *Identity `name:"preset_identity" optional:"true"`
}

// ProvideIdentity 提供节点身份
//
// 优先级：直接注入 > 密钥文件 > 自动生成
func ProvideIdentity(in ModuleInput) (*Identity, error) {
	if in.Identity != nil {
		return in.Identity, nil
	}
	cfg := config.DefaultIdentityConfig()
	if in.Config != nil {
		cfg = in.Config.Identity
	}
	id, err := LoadOrGenerate(cfg.KeyFile, cfg.AutoGenerate)
	if err != nil {
		return nil, err
	}
	log.Debug("节点身份就绪", "peer", id.PeerID().ShortString(), "keyFile", cfg.KeyFile)
	return id, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
