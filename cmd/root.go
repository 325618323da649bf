package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"VoiceFM/config"
	"VoiceFM/logger"
)

var rootCmd = &cobra.Command{
	Use:   "voicefm",
	Short: "VoiceFM 语音频道点歌推流服务",
	Long:  `VoiceFM 将播放列表中的歌曲通过 ffmpeg 推流到 KOOK 语音频道或任意 RTP 地址。`,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志，console 为 false 时日志只写文件
func loadConfig(console bool) *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
		Console:    console,
	})
	return cfg
}
