package lumosp2p

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
)

// Option 节点配置选项
type Option func(*options) error

// options 内部选项结构
type options struct {
	// cfg 最终交给各模块的配置
	cfg *config.Config

	// identity 直接注入的身份，优先于密钥文件
	identity *identity.Identity

	// fxOptions 追加到 fx 应用的选项
	fxOptions []fx.Option
}

func newOptions() *options {
	cfg := config.NewConfig()
	cfg.Identity.AgentVersion = AgentVersion()
	return &options{cfg: cfg}
}

func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
//                              配置选项
// ============================================================================

// WithConfig 以完整配置为基础
//
// 会替换之前所有选项写入的配置，应放在其他选项之前。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidOption)
		}
		o.cfg = cfg.Clone()
		if o.cfg.Identity.AgentVersion == "" {
			o.cfg.Identity.AgentVersion = AgentVersion()
		}
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置，规则同 WithConfig
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		return WithConfig(cfg)(o)
	}
}

// ============================================================================
//                              网络选项
// ============================================================================

// WithListenAddrs 设置监听地址
//
//	lumosp2p.New(lumosp2p.WithListenAddrs("/ip4/0.0.0.0/tcp/4001", "/ip4/0.0.0.0/tcp/4002/ws"))
func WithListenAddrs(addrs ...string) Option {
	return func(o *options) error {
		o.cfg.Transport.ListenAddrs = append([]string(nil), addrs...)
		return nil
	}
}

// WithBootstrapPeers 设置种子节点，地址必须带 /p2p/<id>
//
// 种子只在构造时给出；Start 时拨号并完成 DHT 引导。
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.cfg.Discovery.BootstrapPeers = append([]string(nil), addrs...)
		return nil
	}
}

// WithRelays 设置静态中继并启用中继回退
func WithRelays(addrs ...string) Option {
	return func(o *options) error {
		o.cfg.Relay.EnableClient = true
		o.cfg.Relay.Relays = append([]string(nil), addrs...)
		return nil
	}
}

// WithRelayService 为其他节点提供中继服务
func WithRelayService(enable bool) Option {
	return func(o *options) error {
		o.cfg.Relay.EnableServer = enable
		return nil
	}
}

// WithNATPortMap 启用 NAT-PMP 端口映射
func WithNATPortMap(enable bool) Option {
	return func(o *options) error {
		o.cfg.NAT.EnablePortMap = enable
		return nil
	}
}

// WithMDNS 启用局域网发现
func WithMDNS(enable bool) Option {
	return func(o *options) error {
		o.cfg.Discovery.EnableMDNS = enable
		return nil
	}
}

// WithProviderTTL 设置提供者记录有效期，重新公告间隔随之取一半
func WithProviderTTL(ttl time.Duration) Option {
	return func(o *options) error {
		if ttl < time.Second {
			return fmt.Errorf("%w: provider ttl %s", ErrInvalidOption, ttl)
		}
		o.cfg.Discovery.ProviderTTL = config.Duration(ttl)
		return nil
	}
}

// ============================================================================
//                              存储选项
// ============================================================================

// WithDataDir 设置数据目录
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("%w: empty data dir", ErrInvalidOption)
		}
		o.cfg.Storage.DataDir = dir
		o.cfg.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 内容块、节点表与记忆索引都只放在内存
func WithInMemoryStorage() Option {
	return func(o *options) error {
		o.cfg.Storage.InMemory = true
		return nil
	}
}

// WithMemoryBackend 选择记忆后端："local" 或 "peer"
func WithMemoryBackend(backend string) Option {
	return func(o *options) error {
		switch backend {
		case config.MemoryBackendLocal, config.MemoryBackendPeer:
		default:
			return fmt.Errorf("%w: memory backend %q", ErrInvalidOption, backend)
		}
		o.cfg.Memory.Backend = backend
		return nil
	}
}

// ============================================================================
//                              身份选项
// ============================================================================

// WithIdentityKeyFile 从 PEM 文件加载身份，文件不存在时生成并保存
func WithIdentityKeyFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("%w: empty key file", ErrInvalidOption)
		}
		o.cfg.Identity.KeyFile = path
		o.cfg.Identity.AutoGenerate = true
		return nil
	}
}

// WithIdentity 使用给定身份
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) error {
		if id == nil {
			return fmt.Errorf("%w: nil identity", ErrInvalidOption)
		}
		o.identity = id
		return nil
	}
}

// WithCapability 在 identify 中通告一项能力
func WithCapability(key, value string) Option {
	return func(o *options) error {
		if key == "" {
			return fmt.Errorf("%w: empty capability key", ErrInvalidOption)
		}
		if o.cfg.Identity.Capabilities == nil {
			o.cfg.Identity.Capabilities = make(map[string]string)
		}
		o.cfg.Identity.Capabilities[key] = value
		return nil
	}
}

// ============================================================================
//                              扩展选项
// ============================================================================

// WithMetrics 启用或关闭指标
func WithMetrics(enable bool) Option {
	return func(o *options) error {
		o.cfg.Metrics.Enable = enable
		return nil
	}
}

// WithFxOptions 追加自定义 fx 选项，例如替换时钟或注入额外组件
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
