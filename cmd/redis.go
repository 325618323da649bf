package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"VoiceFM/cache"
	"VoiceFM/model"
)

var (
	redisChannel string
	redisWatch   bool
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis 连接测试与频道状态查看",
	Long:  `测试 Redis 连接并列出已保存的频道控制参数与正在播放的歌曲。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer cache.CloseRedis()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := cache.CheckRedis(ctx); err != nil {
			return fmt.Errorf("Redis读写测试失败: %w", err)
		}
		fmt.Println("Redis读写测试成功")

		controls := cache.NewControlCache(nil)
		events := cache.NewEventPublisher(nil)

		if redisWatch {
			if redisChannel == "" {
				return fmt.Errorf("--watch 需要指定 --channel")
			}
			return watchEvents(events, redisChannel)
		}

		channels := []string{redisChannel}
		if redisChannel == "" {
			var err error
			if channels, err = controls.Channels(ctx); err != nil {
				return fmt.Errorf("列出频道失败: %w", err)
			}
		}
		if len(channels) == 0 {
			fmt.Println("没有保存的频道")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"频道", "模式", "音量", "缓冲", "正在播放"})
		for _, ch := range channels {
			row := table.Row{ch, "-", "-", "-", "-"}
			if c, ok, err := controls.LoadControls(ctx, ch); err != nil {
				return fmt.Errorf("读取 %s 失败: %w", ch, err)
			} else if ok {
				row[1], row[2], row[3] = c.Mode.Label(), fmt.Sprintf("%.2f", c.Volume), c.BufferSize
			}
			if np, err := events.NowPlaying(ctx, ch); err == nil && np != nil {
				row[4] = np.Title
				if np.Artist != "" {
					row[4] = np.Title + " - " + np.Artist
				}
			}
			t.AppendRow(row)
		}
		t.Render()
		return nil
	},
}

// watchEvents 订阅频道事件直到收到退出信号
func watchEvents(events *cache.EventPublisher, channelID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := events.Subscribe(ctx, channelID)
	if err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}
	defer sub.Close()

	fmt.Printf("正在监听 %s，按 Ctrl+C 退出\n", cache.EventsChannel(channelID))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				fmt.Println(msg.Payload)
				continue
			}
			fmt.Printf("[%s] %s %s\n", ev.At.Format("15:04:05"), ev.Kind, ev.Message)
		}
	}
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVarP(&redisChannel, "channel", "c", "", "只查看指定频道")
	redisCmd.Flags().BoolVarP(&redisWatch, "watch", "w", false, "持续打印指定频道的事件")
}
