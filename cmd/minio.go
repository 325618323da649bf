package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"VoiceFM/core/utils"
	"VoiceFM/storage"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
	minioLocal  bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理 MinIO 中镜像的曲库文件，支持列出文件、查看统计信息、删除目录，以及查看本地曲库。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)

		if minioLocal {
			return printLocalLibrary(cfg.AudioLibDir)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		client, err := storage.ConnectMinio(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}
		bucket := storage.NewBucket(client, cfg.MinioBucket)

		prefix := minioPrefix
		if !cmd.Flags().Changed("prefix") {
			prefix = cfg.MinioPrefix
		}

		if minioDelete {
			n, err := bucket.DeletePrefix(ctx, prefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %s 下的 %d 个对象\n", prefix, n)
			return nil
		}

		objects, stats, err := bucket.List(ctx, prefix)
		if err != nil {
			return err
		}

		if minioStats {
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"扩展名", "文件数"})
			exts := make([]string, 0, len(stats.ByExt))
			for ext := range stats.ByExt {
				exts = append(exts, ext)
			}
			sort.Strings(exts)
			for _, ext := range exts {
				t.AppendRow(table.Row{ext, stats.ByExt[ext]})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("共 %d 个对象", stats.TotalObjects), utils.FormatSize(stats.TotalSize)})
			t.Render()
			if !stats.LastModified.IsZero() {
				fmt.Printf("最后修改: %s\n", stats.LastModified.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"对象", "大小", "修改时间"})
		for _, obj := range objects {
			t.AppendRow(table.Row{obj.Key, utils.FormatSize(obj.Size), obj.LastModified.Local().Format("2006-01-02 15:04")})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d 个对象", stats.TotalObjects), utils.FormatSize(stats.TotalSize), ""})
		t.Render()
		return nil
	},
}

// printLocalLibrary 打印本地曲库统计
func printLocalLibrary(dir string) error {
	local, err := storage.NewLocalStore(dir)
	if err != nil {
		return err
	}
	stats, err := local.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("本地曲库 %s: %d 首, %s\n", local.Dir(), stats.Files, utils.FormatSize(stats.Bytes))
	return nil
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤，默认 MINIO_PREFIX")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的所有文件")
	minioCmd.Flags().BoolVar(&minioLocal, "local", false, "查看本地曲库而不是 MinIO")

	minioCmd.Example = `  # 列出镜像的曲库文件
  voicefm minio

  # 按前缀过滤并显示统计
  voicefm minio -p "audio/" -s

  # 删除目录及其下的所有文件
  voicefm minio -d -p "audio/old/"`
}
