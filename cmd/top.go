package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"VoiceFM/core/utils"
	"VoiceFM/db"
	"VoiceFM/repository"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "查看播放次数排行",
	Long:  `从 MySQL 读取曲目播放统计，按播放次数倒序显示。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)
		if err := db.ConnectGormDB(cfg); err != nil {
			return fmt.Errorf("无法连接到数据库: %w", err)
		}
		defer db.CloseGormDB()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := repository.NewGormTrackRepository(db.GormDB).TopPlayed(ctx, topLimit)
		if err != nil {
			return fmt.Errorf("查询失败: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("暂无播放记录")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "ID", "歌曲", "时长", "播放次数", "最近播放"})
		for i, rec := range records {
			last := "-"
			if rec.LastPlayedAt != nil {
				last = rec.LastPlayedAt.Local().Format("2006-01-02 15:04")
			}
			t.AppendRow(table.Row{i + 1, rec.TrackID, rec.Track().DisplayName(), utils.FormatDuration(rec.Duration), rec.PlayCount, last})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "显示数量")
}
