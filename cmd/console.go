package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"VoiceFM/core/playlist"
	"VoiceFM/core/stream"
	"VoiceFM/core/utils"
	"VoiceFM/model"
)

const consoleHelp = `可用命令:
  add <路径|歌曲ID>   添加本地文件或网易云歌曲
  import <歌单>       导入网易云歌单（ID 或分享链接）
  list                显示播放列表
  skip                跳过当前歌曲
  now                 显示正在播放
  mode <模式>         sequential / random / single_loop / list_loop
  volume <音量>       设置音量 (0, 2]
  buffer <数量>       设置预下载数量
  remove <序号>       移除播放列表中的歌曲（从 1 开始）
  clear               清空播放列表
  quit                停止播放并退出`

// syncWriter 串行化控制台输出
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// consoleNotifier 将会话事件打印到控制台
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Notify(_ context.Context, ev model.Event) error {
	_, err := fmt.Fprintf(n.out, "[%s] %s\n", ev.At.Format("15:04:05"), ev.Message)
	return err
}

// console 解释交互命令
type console struct {
	sess *stream.Session
	out  io.Writer
	wg   sync.WaitGroup
}

func newConsole(sess *stream.Session, out io.Writer) *console {
	return &console{sess: sess, out: out}
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// exec 执行一行命令，返回 true 表示退出
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch verb {
	case "add":
		c.add(ctx, arg)
	case "import":
		c.importPlaylist(ctx, arg)
	case "list", "ls":
		c.list()
	case "skip", "next":
		c.skip()
	case "now":
		c.now()
	case "mode":
		c.mode(ctx, arg)
	case "volume", "vol":
		c.volume(ctx, arg)
	case "buffer":
		c.buffer(ctx, arg)
	case "remove", "rm":
		c.remove(arg)
	case "clear":
		c.printf("已清空 %d 首歌曲", c.sess.Clear())
	case "quit", "exit", "q":
		return true
	default:
		c.printf("%s", consoleHelp)
	}
	return false
}

// wait 等待后台导入结束
func (c *console) wait() { c.wg.Wait() }

func (c *console) add(ctx context.Context, arg string) {
	if arg == "" {
		c.printf("用法: add <路径|歌曲ID>")
		return
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		t, err := c.sess.AddFile(ctx, arg)
		if err != nil {
			c.printf("添加失败: %v", err)
			return
		}
		c.printf("已添加: %s", t.DisplayName())
		return
	}
	switch c.sess.Enqueue(model.DownloadRequest{ID: arg}) {
	case playlist.AddInvalid:
		c.printf("无效的歌曲ID")
	case playlist.AddMerged:
		c.printf("%s: 已在本地曲库，加入播放列表", arg)
	case playlist.AddQueued:
		c.printf("%s: 已加入下载队列", arg)
	case playlist.AddDuplicate:
		c.printf("%s: 已在播放列表中", arg)
	}
}

func (c *console) importPlaylist(ctx context.Context, arg string) {
	if arg == "" {
		c.printf("用法: import <歌单ID|链接>")
		return
	}
	c.printf("正在导入歌单 %s ...", arg)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		n, err := c.sess.Import(ctx, arg)
		if err != nil {
			c.printf("导入失败: %v", err)
			return
		}
		c.printf("歌单导入完成，共 %d 首", n)
	}()
}

func (c *console) list() {
	snap := c.sess.Snapshot().Playlist

	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "歌曲", "专辑", "时长"})
	if snap.Current != nil {
		t.AppendRow(table.Row{"▶", snap.Current.DisplayName(), snap.Current.Album, utils.FormatDuration(snap.Current.DurationSeconds)})
	}
	for i, tr := range snap.Active {
		t.AppendRow(table.Row{i + 1, tr.DisplayName(), tr.Album, utils.FormatDuration(tr.DurationSeconds)})
	}
	for _, req := range snap.Pending {
		t.AppendRow(table.Row{"…", req.Track().DisplayName(), req.Album, "下载中"})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%s · 待导入 %d · 缓冲 %d", snap.Mode.Label(), snap.Lookahead, snap.BufferTarget), "", ""})
	t.Render()
}

func (c *console) skip() {
	old, next := c.sess.Skip()
	if old == nil {
		c.printf("当前没有正在播放的歌曲")
		return
	}
	c.printf("已跳过: %s", old.DisplayName())
	if next != nil {
		c.printf("下一首: %s", next.DisplayName())
	}
}

func (c *console) now() {
	snap := c.sess.Snapshot()
	cur := snap.Playlist.Current
	if cur == nil {
		c.printf("当前没有正在播放的歌曲 (%s)", snap.Phase)
		return
	}
	c.printf("正在播放: %s [%s / %s]", cur.DisplayName(),
		utils.FormatDuration(snap.Playlist.Position), utils.FormatDuration(cur.DurationSeconds))
	c.printf("模式: %s  音量: %.2f  已播放: %s", snap.Playlist.Mode.Label(), snap.Volume,
		time.Since(snap.Playlist.StartedAt).Truncate(time.Second))
}

func (c *console) mode(ctx context.Context, arg string) {
	m, ok := model.ParsePlayMode(arg)
	if !ok {
		c.printf("未知模式: %s (sequential / random / single_loop / list_loop)", arg)
		return
	}
	if err := c.sess.SetMode(ctx, m); err != nil {
		c.printf("设置失败: %v", err)
		return
	}
	c.printf("播放模式: %s", m.Label())
}

func (c *console) volume(ctx context.Context, arg string) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		c.printf("无效的音量: %s", arg)
		return
	}
	applied, err := c.sess.SetVolume(ctx, v)
	if err != nil {
		c.printf("设置失败: %v", err)
		return
	}
	c.printf("音量: %.2f (下一首生效)", applied)
}

func (c *console) buffer(ctx context.Context, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		c.printf("无效的数量: %s", arg)
		return
	}
	if err := c.sess.SetBufferTarget(ctx, n); err != nil {
		c.printf("设置失败: %v", err)
		return
	}
	c.printf("预下载数量: %d", n)
}

func (c *console) remove(arg string) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		c.printf("无效的序号: %s", arg)
		return
	}
	t, err := c.sess.Remove(i)
	if err != nil {
		c.printf("移除失败: %v", err)
		return
	}
	c.printf("已移除: %s", t.DisplayName())
}
