package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"VoiceFM/core/voice"
)

var kookLeave string

var kookCmd = &cobra.Command{
	Use:   "kook",
	Short: "查看机器人所在的 KOOK 语音频道",
	Long:  `列出机器人当前加入的 KOOK 语音频道，或通过 --leave 退出指定频道。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)
		if cfg.KookToken == "" {
			return fmt.Errorf("KOOK_TOKEN 未配置")
		}
		client := voice.NewClientFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if kookLeave != "" {
			if err := client.Leave(ctx, kookLeave); err != nil {
				return fmt.Errorf("退出频道失败: %w", err)
			}
			fmt.Printf("已退出频道 %s\n", kookLeave)
			return nil
		}

		channels, err := client.List(ctx)
		if err != nil {
			return fmt.Errorf("获取频道列表失败: %w", err)
		}
		if len(channels) == 0 {
			fmt.Println("机器人未加入任何语音频道")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"频道ID", "服务器ID", "名称"})
		for _, ch := range channels {
			t.AppendRow(table.Row{ch.ID, ch.GuildID, ch.Name})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kookCmd)
	kookCmd.Flags().StringVar(&kookLeave, "leave", "", "退出指定的语音频道")
}
