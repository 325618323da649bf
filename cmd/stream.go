package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"VoiceFM/core/stream"
	"VoiceFM/logger"
)

var (
	streamTarget      string
	streamKookChannel string
	streamPassword    string
	streamChannel     string
	streamPlaylist    string
)

var streamCmd = &cobra.Command{
	Use:   "stream [路径|歌曲ID...]",
	Short: "在当前终端运行一个推流会话",
	Long: `启动一个推流会话并进入交互控制台。
未指定 --target 与 --kook-channel 时推流到 RTP_TARGET。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := &syncWriter{w: os.Stdout}
		st, err := buildStack(ctx, cfg, consoleNotifier{out: out})
		if err != nil {
			return err
		}
		defer st.Close()

		req := stream.OpenRequest{ChannelID: streamChannel, Target: streamTarget}
		var joiner stream.Joiner
		if streamKookChannel != "" {
			if joiner, err = kookJoiner(cfg); err != nil {
				return err
			}
			req.ChannelID = streamKookChannel
			req.Password = streamPassword
		}
		if req.ChannelID == "" {
			req.ChannelID = cfg.DefaultChannel
		}

		mgr := st.manager(joiner)
		sess, err := mgr.Open(ctx, req)
		if err != nil {
			return fmt.Errorf("启动会话失败: %w", err)
		}
		defer mgr.StopAll(context.Background())

		fmt.Fprintf(out, "会话已启动: %s -> %s\n输入 help 查看命令\n", sess.ChannelID(), sess.Snapshot().Target)

		c := newConsole(sess, out)
		for _, arg := range args {
			c.exec(ctx, "add "+arg)
		}
		if streamPlaylist != "" {
			c.exec(ctx, "import "+streamPlaylist)
		}

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				fmt.Fprintln(out, "收到退出信号，正在停止...")
				return nil
			case <-sess.Done():
				logger.Info("[Stream] 会话已自行结束", logger.String("channel", sess.ChannelID()))
				return nil
			case line, ok := <-lines:
				if !ok || c.exec(ctx, line) {
					fmt.Fprintln(out, "正在停止...")
					return nil
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVarP(&streamTarget, "target", "t", "", "RTP 推流地址，指定后不加入语音频道")
	streamCmd.Flags().StringVarP(&streamKookChannel, "kook-channel", "k", "", "要加入的 KOOK 语音频道 ID")
	streamCmd.Flags().StringVar(&streamPassword, "password", "", "语音频道密码")
	streamCmd.Flags().StringVarP(&streamChannel, "channel", "c", "", "会话名称，默认 DEFAULT_CHANNEL")
	streamCmd.Flags().StringVarP(&streamPlaylist, "playlist", "p", "", "启动后导入的网易云歌单")
	streamCmd.MarkFlagsMutuallyExclusive("target", "kook-channel")

	streamCmd.Example = `  # 推流到本地 RTP 地址并添加两首歌
  voicefm stream -t "rtp://127.0.0.1:5004" ./music/a.mp3 186016

  # 加入 KOOK 语音频道并导入歌单
  voicefm stream -k 1234567890 -p "https://music.163.com/#/playlist?id=24381616"`
}
