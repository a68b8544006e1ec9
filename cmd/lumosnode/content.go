package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	lumosp2p "github.com/louloulin/lumos.ai-sub002"
)

func init() {
	put := &cobra.Command{
		Use:   "put [file]",
		Short: "存储内容并打印 CID，不给文件时读取标准输入",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPut,
	}
	put.Flags().Duration("linger", 5*time.Second, "退出前等待提供者公告的时间")

	get := &cobra.Command{
		Use:   "get <cid>",
		Short: "按 CID 读取内容，本地没有时从网络拉取",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	get.Flags().StringP("out", "o", "", "输出文件（默认标准输出）")
	get.Flags().Duration("timeout", 30*time.Second, "整体超时")

	query := &cobra.Command{
		Use:   "query",
		Short: "查询分布式记忆，输出 JSON",
		RunE:  runQuery,
	}
	query.Flags().String("text", "", "内容子串")
	query.Flags().String("thread", "", "会话 ID")
	query.Flags().StringSlice("tag", nil, "必须带有的标签，可重复")
	query.Flags().Int("limit", 0, "返回条目上限")
	query.Flags().Bool("local", false, "只查本地")

	rootCmd.AddCommand(put, get, query)
}

func runPut(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("读取内容失败: %w", err)
	}

	node, err := startNode(cmd.Context(), cmd)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	c, err := node.StoreContent(cmd.Context(), data)
	if err != nil {
		return fmt.Errorf("存储失败: %w", err)
	}
	fmt.Println(c)

	// 公告在后台进行；未送达的部分在下次 run 启动时重新公告
	if linger, _ := cmd.Flags().GetDuration("linger"); linger > 0 && !node.Isolated() {
		time.Sleep(linger)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := lumosp2p.ParseCID(args[0])
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	node, err := startNode(ctx, cmd)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	data, err := node.GetContent(ctx, c)
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", c, err)
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runQuery(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var f lumosp2p.MemoryFilter
	f.Text, _ = flags.GetString("text")
	f.ThreadID, _ = flags.GetString("thread")
	f.Tags, _ = flags.GetStringSlice("tag")
	f.Limit, _ = flags.GetInt("limit")
	scope := lumosp2p.ScopeDistributed
	if local, _ := flags.GetBool("local"); local {
		scope = lumosp2p.ScopeLocal
	}

	node, err := startNode(cmd.Context(), cmd)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	res, err := node.Memory().Query(cmd.Context(), f, scope)
	if err != nil {
		return fmt.Errorf("查询失败: %w", err)
	}
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
	if res.Incomplete {
		fmt.Fprintf(os.Stderr, "⚠️  %d/%d 个节点在窗口内回复，结果可能不全\n", res.Responders, res.Expected)
	}
	return nil
}
