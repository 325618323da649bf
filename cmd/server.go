package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"VoiceFM/core/stream"
	"VoiceFM/logger"
	"VoiceFM/server"
)

var serverPort string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动控制接口服务器",
	Long:  `启动 HTTP 控制接口，通过 REST 管理各频道的推流会话，并通过 WebSocket 推送事件。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(true)
		if serverPort != "" {
			cfg.ServerPort = serverPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hub := server.NewHub()
		st, err := buildStack(ctx, cfg, hub)
		if err != nil {
			return err
		}
		defer st.Close()

		var joiner stream.Joiner
		if cfg.KookToken != "" {
			if joiner, err = kookJoiner(cfg); err != nil {
				return err
			}
		} else {
			logger.Warn("[Server] 未配置 KOOK_TOKEN，会话将推流到 RTP_TARGET", logger.String("target", cfg.RTPTarget))
		}
		if cfg.JWTSecret == "" {
			logger.Warn("[Server] 未配置 JWT_SECRET，控制接口不做认证")
		}

		srv := server.New(server.Options{
			Addr:      ":" + cfg.ServerPort,
			Sessions:  st.manager(joiner),
			Searcher:  st.netease,
			Hub:       hub,
			JWTSecret: cfg.JWTSecret,
		})
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&serverPort, "port", "P", "", "监听端口，默认 SERVER_PORT")
}
