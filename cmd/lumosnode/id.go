package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/louloulin/lumos.ai-sub002/internal/core/identity"
)

func init() {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "显示节点 ID；密钥文件不存在时生成并保存",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var id *identity.Identity
			if cfg.Identity.KeyFile == "" {
				id, err = identity.Generate()
				fmt.Println("⚠️  未指定 --identity，生成的是临时身份")
			} else {
				id, err = identity.LoadOrGenerate(cfg.Identity.KeyFile, true)
			}
			if err != nil {
				return fmt.Errorf("加载身份失败: %w", err)
			}
			fmt.Println(id.PeerID())
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
