package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	lumosp2p "github.com/louloulin/lumos.ai-sub002"
)

// statusInterval 运行时打印节点状态的周期
const statusInterval = time.Minute

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动节点并保持运行，Ctrl+C 退出",
		RunE:  runNode,
	}
	cmd.Flags().Bool("relay-service", false, "为其他节点提供中继服务")
	cmd.Flags().Bool("nat", false, "通过 NAT-PMP 映射监听端口")
	cmd.Flags().Bool("mdns", false, "启用局域网发现")
	cmd.Flags().StringToString("capability", nil, "通告的能力，key=value，可重复")
	rootCmd.AddCommand(cmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	var extra []lumosp2p.Option
	flags := cmd.Flags()
	if flags.Changed("relay-service") {
		v, _ := flags.GetBool("relay-service")
		extra = append(extra, lumosp2p.WithRelayService(v))
	}
	if flags.Changed("nat") {
		v, _ := flags.GetBool("nat")
		extra = append(extra, lumosp2p.WithNATPortMap(v))
	}
	if flags.Changed("mdns") {
		v, _ := flags.GetBool("mdns")
		extra = append(extra, lumosp2p.WithMDNS(v))
	}
	caps, _ := flags.GetStringToString("capability")
	for k, v := range caps {
		extra = append(extra, lumosp2p.WithCapability(k, v))
	}

	node, err := newNode(cmd, extra...)
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📦 %s\n", lumosp2p.VersionInfo())
	fmt.Println("正在启动节点...")
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	printNodeInfo(node)

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n正在关闭节点...")
			return nil
		case <-ticker.C:
			printStatus(node)
		}
	}
}

// printNodeInfo 打印节点身份与可分享的地址
func printNodeInfo(node *lumosp2p.Node) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Printf("  节点 ID: %s\n", node.ID())
	fmt.Println("  完整地址（可作为其他节点的 --bootstrap）：")
	for _, a := range node.P2PAddrs() {
		fmt.Printf("    %s\n", a)
	}
	res := node.BootstrapResult()
	if res.Isolated {
		fmt.Println("  ⚠️  未连上任何种子节点，以隔离模式运行")
	} else {
		fmt.Printf("  已连接种子: %d/%d，路由表: %d\n", res.Connected, res.Seeds, res.TableSize)
	}
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println()
}

func printStatus(node *lumosp2p.Node) {
	peers := node.GetPeers()
	fmt.Printf("[%s] 已连接节点: %d，已知节点: %d，隔离: %v\n",
		time.Now().Format(time.TimeOnly), len(peers), len(node.KnownPeers()), node.Isolated())
}

// startNode 创建并启动节点，供一次性命令使用
func startNode(ctx context.Context, cmd *cobra.Command) (*lumosp2p.Node, error) {
	node, err := newNode(cmd)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return nil, err
	}
	return node, nil
}
