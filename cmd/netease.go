package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"VoiceFM/core/netease"
	"VoiceFM/core/utils"
	"VoiceFM/storage"
)

var (
	searchKeyword string
	searchLimit   int
	searchOffset  int
	searchSave    bool
)

var neteaseCmd = &cobra.Command{
	Use:   "netease",
	Short: "网易云音乐命令行工具",
	Long:  `搜索网易云音乐歌曲，获取播放地址，或直接下载到本地曲库。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchKeyword == "" {
			return fmt.Errorf("请通过 -k 指定要搜索的歌曲名称")
		}
		cfg := loadConfig(false)
		client := netease.NewClientFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		fmt.Printf("正在搜索: %s\n", searchKeyword)
		result, err := client.SearchSongs(ctx, searchKeyword, searchLimit, searchOffset)
		if err != nil {
			return fmt.Errorf("搜索失败: %w", err)
		}
		if len(result.Songs) == 0 {
			fmt.Println("未找到相关歌曲")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "ID", "歌曲", "艺术家", "专辑", "时长"})
		for i, song := range result.Songs {
			t.AppendRow(table.Row{i + 1, song.ID, song.Name, song.ArtistNames(), song.Album.Name,
				utils.FormatDuration(float64(song.Duration) / 1000)})
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("共 %d 首", result.Total), "", "", ""})
		t.Render()

		var choice int
		fmt.Print("\n请选择歌曲编号: ")
		if _, err := fmt.Scan(&choice); err != nil || choice < 1 || choice > len(result.Songs) {
			return fmt.Errorf("无效的选择")
		}
		songID := strconv.FormatInt(result.Songs[choice-1].ID, 10)

		if !searchSave {
			u, err := client.GetSongURL(ctx, songID)
			if err != nil {
				return fmt.Errorf("获取播放地址失败: %w", err)
			}
			fmt.Printf("播放地址: %s\n", u)
			return nil
		}

		local, err := storage.NewLocalStore(cfg.AudioLibDir)
		if err != nil {
			return err
		}
		if p, ok := local.Exists(songID); ok {
			fmt.Printf("已在本地曲库: %s\n", p)
			return nil
		}
		track, body, err := client.Resolve(ctx, songID)
		if err != nil {
			return fmt.Errorf("下载失败: %w", err)
		}
		defer body.Close()
		p, err := local.Save(songID, body)
		if err != nil {
			return fmt.Errorf("保存失败: %w", err)
		}
		size := int64(0)
		if info, err := os.Stat(p); err == nil {
			size = info.Size()
		}
		fmt.Printf("已保存 %s -> %s (%s)\n", track.DisplayName(), p, utils.FormatSize(size))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(neteaseCmd)

	neteaseCmd.Flags().StringVarP(&searchKeyword, "keyword", "k", "", "搜索关键词")
	neteaseCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "返回结果数量")
	neteaseCmd.Flags().IntVarP(&searchOffset, "offset", "o", 0, "结果偏移量")
	neteaseCmd.Flags().BoolVarP(&searchSave, "download", "d", false, "下载到本地曲库而不是打印播放地址")
}
