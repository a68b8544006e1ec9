package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	lumosp2p "github.com/louloulin/lumos.ai-sub002"
	"github.com/louloulin/lumos.ai-sub002/config"
	"github.com/louloulin/lumos.ai-sub002/internal/util/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置（「这个节点」的固定配置）
//
// 优先级：命令行 > 环境变量（LUMOS_*）> 配置文件 > 默认值
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile  string
	listenAddrs []string
	bootstrap   []string
	dataDir     string
	keyFile     string
	inMemory    bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "lumosnode",
	Short: "lumos P2P 节点",
	Long:  "运行 lumos 智能体网络节点：节点发现、发布订阅、内容寻址存储与分布式记忆。",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetAllLevels(slog.LevelDebug)
		}
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "配置文件路径（JSON）")
	pf.StringSliceVarP(&listenAddrs, "listen", "l", nil, "监听地址，可重复（默认 /ip4/0.0.0.0/tcp/0）")
	pf.StringSliceVarP(&bootstrap, "bootstrap", "b", nil, "种子节点地址（带 /p2p/<id>），可重复")
	pf.StringVarP(&dataDir, "data-dir", "d", "", "数据目录（默认 ./data）")
	pf.StringVarP(&keyFile, "identity", "i", "", "身份密钥文件路径")
	pf.BoolVar(&inMemory, "in-memory", false, "不落盘，退出后数据丢失")
	pf.BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(lumosp2p.VersionInfo())
	},
}

// loadConfig 按优先级合并配置文件、环境变量与命令行参数
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if configFile != "" {
		loaded, err := config.LoadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Transport.ListenAddrs = listenAddrs
	}
	if flags.Changed("bootstrap") {
		cfg.Discovery.BootstrapPeers = bootstrap
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = dataDir
	}
	if flags.Changed("identity") {
		cfg.Identity.KeyFile = keyFile
	}
	if flags.Changed("in-memory") {
		cfg.Storage.InMemory = inMemory
	}
	return cfg, nil
}

// newNode 按命令行配置创建节点（未启动）
func newNode(cmd *cobra.Command, extra ...lumosp2p.Option) (*lumosp2p.Node, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := append([]lumosp2p.Option{lumosp2p.WithConfig(cfg)}, extra...)
	return lumosp2p.New(opts...)
}
