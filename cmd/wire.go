package cmd

import (
	"context"
	"fmt"

	"VoiceFM/cache"
	"VoiceFM/config"
	"VoiceFM/core/audio"
	"VoiceFM/core/netease"
	"VoiceFM/core/stream"
	"VoiceFM/core/voice"
	"VoiceFM/db"
	"VoiceFM/logger"
	"VoiceFM/repository"
	"VoiceFM/storage"
)

// stack 会话共享的依赖，按配置接入 Redis、MySQL 与 MinIO
type stack struct {
	cfg       *config.Config
	local     *storage.LocalStore
	store     stream.TrackStore
	watcher   *storage.Watcher
	netease   *netease.Client
	catalog   stream.Catalog
	controls  stream.ControlStore
	notifiers stream.MultiNotifier
	closers   []func()
}

func buildStack(ctx context.Context, cfg *config.Config, notifiers ...stream.Notifier) (*stack, error) {
	st := &stack{
		cfg:       cfg,
		netease:   netease.NewClientFromConfig(cfg),
		notifiers: append(stream.MultiNotifier{stream.LogNotifier{}}, notifiers...),
	}

	local, err := storage.NewLocalStore(cfg.AudioLibDir)
	if err != nil {
		return nil, err
	}
	st.local = local
	st.store = local

	if w, err := storage.NewWatcher(local.Dir()); err != nil {
		logger.Warn("[Wire] 曲库目录监听不可用，改为轮询", logger.ErrorField(err))
	} else {
		st.watcher = w
		go w.Run(ctx)
		st.closers = append(st.closers, func() { w.Close() })
	}

	if cfg.MinioEnabled {
		client, err := storage.ConnectMinio(ctx, cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.store = storage.NewMinioStore(local, client, cfg.MinioBucket, cfg.MinioPrefix)
	}

	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, func() { cache.CloseRedis() })
		st.controls = cache.NewControlCache(nil)
		st.notifiers = append(st.notifiers, cache.NewEventPublisher(nil))
	}

	if cfg.DBEnabled {
		if err := db.ConnectGormDB(cfg); err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, func() { db.CloseGormDB() })
		if err := db.AutoMigrate(); err != nil {
			st.Close()
			return nil, err
		}
		repo := repository.NewGormTrackRepository(db.GormDB)
		st.catalog = repo
		st.notifiers = append(st.notifiers, repository.NewPlayCounter(repo))
	}

	logger.Info("[Wire] 依赖初始化完成",
		logger.String("audio_dir", local.Dir()),
		logger.Bool("minio", cfg.MinioEnabled),
		logger.Bool("redis", cfg.RedisEnabled),
		logger.Bool("db", cfg.DBEnabled))
	return st, nil
}

// manager 创建会话管理器，joiner 为空时使用静态推流地址
func (st *stack) manager(joiner stream.Joiner) *stream.Manager {
	opts := stream.ManagerOptions{
		Pipelines: stream.FIFOPipelines(audio.SettingsFromConfig(st.cfg), audio.ExecLauncher{}, st.cfg.FIFODir),
		Joiner:    joiner,
		Defaults:  stream.DefaultsFromConfig(st.cfg),
		Store:     st.store,
		Fetcher:   st.netease,
		Catalog:   st.catalog,
		Source:    st.netease,
		Prober:    audio.NewProber(st.cfg.FFprobePath),
		Controls:  st.controls,
		Notifier:  st.notifiers,
	}
	if st.watcher != nil {
		opts.Wake = st.watcher
	}
	return stream.NewManager(opts)
}

// Close 按创建的逆序释放资源
func (st *stack) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}

// kookJoiner 通过 KOOK 接口加入语音频道
func kookJoiner(cfg *config.Config) (stream.Joiner, error) {
	if cfg.KookToken == "" {
		return nil, fmt.Errorf("KOOK_TOKEN 未配置")
	}
	client := voice.NewClientFromConfig(cfg)
	return stream.JoinerFunc(func(ctx context.Context, channelID, password string) (stream.VoiceChannel, error) {
		ch, err := client.Join(ctx, channelID, password)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}), nil
}
