package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"VoiceFM/core/audio"
	"VoiceFM/core/playlist"
	"VoiceFM/logger"
	"VoiceFM/model"
)

// SessionOptions wires one streaming session.
type SessionOptions struct {
	ChannelID string
	Pipeline  Pipeline
	Voice     VoiceChannel

	Store    TrackStore
	Fetcher  Fetcher
	Catalog  Catalog
	Source   PlaylistSource
	Prober   DurationProber
	Controls ControlStore
	Notifier Notifier
	Wake     WakeSource

	Mode           model.PlayMode
	Volume         float64
	BufferSize     int
	PollInterval   time.Duration
	EmptyPollLimit int
	StartupGrace   time.Duration

	// OnStop runs once after teardown.
	OnStop func(*Session)
}

// SessionSnapshot is what the control surfaces display.
type SessionSnapshot struct {
	ID        string            `json:"id"`
	ChannelID string            `json:"channelId"`
	Target    string            `json:"target"`
	Phase     Phase             `json:"phase"`
	Volume    float64           `json:"volume"`
	Importing bool              `json:"importing"`
	CreatedAt time.Time         `json:"createdAt"`
	Playlist  playlist.Snapshot `json:"playlist"`
}

// Session owns the playlist, engine, worker and pipeline of one channel.
type Session struct {
	id        string
	channelID string
	createdAt time.Time

	playlist *playlist.Playlist
	pipeline Pipeline
	voice    VoiceChannel
	engine   *Engine
	worker   *Worker
	controls ControlStore
	source   PlaylistSource
	prober   DurationProber
	em       emitter
	onStop   func(*Session)

	unsubscribe func()
	volumeBits  atomic.Uint64
	importing   atomic.Int32

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	workerDone chan struct{}
	engineDone chan struct{}
	engineErr  error

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSession builds a session. Start runs it.
func NewSession(opts SessionOptions) *Session {
	s := &Session{
		id:        uuid.NewString(),
		channelID: opts.ChannelID,
		createdAt: time.Now(),
		pipeline:  opts.Pipeline,
		voice:     opts.Voice,
		controls:  opts.Controls,
		source:    opts.Source,
		prober:    opts.Prober,
		onStop:    opts.OnStop,
		stopped:   make(chan struct{}),
	}
	s.em = emitter{notifier: opts.Notifier, sessionID: s.id, channelID: opts.ChannelID}

	volume, err := audio.ValidateVolume(opts.Volume)
	if err != nil {
		volume = 1.0
	}
	s.storeVolume(volume)

	var locator playlist.Locator
	if opts.Store != nil {
		locator = opts.Store
	}
	s.playlist = playlist.New(playlist.Options{
		BufferTarget: opts.BufferSize,
		Mode:         opts.Mode,
		Locator:      locator,
	})

	var wake <-chan struct{}
	if opts.Wake != nil {
		wake, s.unsubscribe = opts.Wake.Subscribe()
	}
	s.worker = NewWorker(WorkerOptions{
		Playlist:  s.playlist,
		Store:     opts.Store,
		Fetcher:   opts.Fetcher,
		Catalog:   opts.Catalog,
		Prober:    opts.Prober,
		Interval:  opts.PollInterval,
		Wake:      wake,
		Notifier:  opts.Notifier,
		SessionID: s.id,
		ChannelID: opts.ChannelID,
	})
	s.engine = NewEngine(EngineOptions{
		Playlist:       s.playlist,
		Player:         opts.Pipeline,
		PollInterval:   opts.PollInterval,
		EmptyPollLimit: opts.EmptyPollLimit,
		StartupGrace:   opts.StartupGrace,
		Volume:         s.Volume,
		Importing:      s.Importing,
		Notifier:       opts.Notifier,
		SessionID:      s.id,
		ChannelID:      opts.ChannelID,
	})
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) ChannelID() string { return s.channelID }

// Playlist exposes the session's play queue.
func (s *Session) Playlist() *playlist.Playlist { return s.playlist }

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Start restores persisted controls, opens the pipeline and starts the background tasks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopped:
		return errors.New("stream: session already stopped")
	default:
	}
	if s.started {
		return nil
	}

	s.restoreControls(ctx)

	if err := s.pipeline.Open(ctx); err != nil {
		return fmt.Errorf("open pipeline: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerDone = make(chan struct{})
	s.engineDone = make(chan struct{})
	s.started = true

	go func() {
		defer close(s.workerDone)
		s.worker.Run(runCtx)
	}()
	go func() {
		err := s.engine.Run(runCtx)
		s.mu.Lock()
		s.engineErr = err
		s.mu.Unlock()
		close(s.engineDone)
		if errors.Is(err, ErrPlaylistExhausted) {
			logger.Info("[Session] 播放列表已空，自动结束会话", logger.String("channel", s.channelID))
			go s.Stop(context.Background())
		}
	}()

	logger.Info("[Session] 会话已启动",
		logger.String("channel", s.channelID),
		logger.String("session", s.id),
		logger.String("target", s.pipeline.Target()))
	return nil
}

// Stop tears the session down. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)

		s.mu.Lock()
		started, cancel := s.started, s.cancel
		workerDone, engineDone := s.workerDone, s.engineDone
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-workerDone
			<-engineDone
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}

		// stops the transport and releases the conduit
		s.pipeline.Close()

		if s.voice != nil {
			leaveCtx, done := context.WithTimeout(ctx, 10*time.Second)
			if err := s.voice.Leave(leaveCtx); err != nil {
				logger.Warn("[Session] 退出语音频道失败", logger.String("channel", s.channelID), logger.ErrorField(err))
			}
			done()
		}

		s.playlist.Reset()
		s.em.emit(ctx, model.EventSessionStopped, nil, "已停止播放并退出频道")
		logger.Info("[Session] 会话已结束", logger.String("channel", s.channelID), logger.String("session", s.id))

		close(s.stopped)
		if s.onStop != nil {
			s.onStop(s)
		}
	})
	<-s.stopped
}

// Err is the engine's exit error once the session is done.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineErr
}

// Volume is the gain applied to the next track.
func (s *Session) Volume() float64 {
	return math.Float64frombits(s.volumeBits.Load())
}

func (s *Session) storeVolume(v float64) {
	s.volumeBits.Store(math.Float64bits(v))
}

// Importing reports whether a bulk import is running.
func (s *Session) Importing() bool {
	return s.importing.Load() > 0
}

// BeginImport marks an import in progress until the returned func is called.
func (s *Session) BeginImport() func() {
	s.importing.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.importing.Add(-1) })
	}
}

// Enqueue submits a catalog track for playback.
func (s *Session) Enqueue(req model.DownloadRequest) playlist.AddResult {
	res := s.playlist.Submit(req)
	if res == playlist.AddQueued {
		s.worker.Kick()
	}
	return res
}

// AddFile queues a local audio file.
func (s *Session) AddFile(ctx context.Context, path string) (model.Track, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Track{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return model.Track{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return model.Track{}, ErrNotAFile
	}

	t := model.Track{
		ID:        model.LocalTrackPrefix + abs,
		Title:     strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		LocalPath: abs,
	}
	if s.prober != nil {
		if d, err := s.prober.Probe(ctx, abs); err == nil {
			t.DurationSeconds = d
		}
	}
	if err := s.playlist.AddLocal(t); err != nil {
		return model.Track{}, err
	}
	return t, nil
}

// Import loads a catalog playlist as the new full set.
func (s *Session) Import(ctx context.Context, playlistID string) (int, error) {
	release := s.BeginImport()
	defer release()

	if s.source == nil {
		return 0, ErrNoPlaylistSource
	}
	tracks, err := s.source.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return 0, fmt.Errorf("import playlist %s: %w", playlistID, err)
	}
	if len(tracks) == 0 {
		return 0, nil
	}
	n := s.playlist.LoadFullSet(tracks)
	s.worker.Kick()
	logger.Info("[Session] 歌单已导入",
		logger.String("channel", s.channelID),
		logger.String("playlist", playlistID),
		logger.Int("tracks", n))
	return n, nil
}

// Skip moves to the next track.
func (s *Session) Skip() (old, next *model.Track) {
	return s.engine.Skip()
}

// Remove drops the n-th ready track, counting from 1.
func (s *Session) Remove(index int) (model.Track, error) {
	return s.playlist.RemoveAt(index)
}

// Clear empties the ready queue.
func (s *Session) Clear() int {
	return s.playlist.Clear()
}

// SetMode changes and persists the play mode.
func (s *Session) SetMode(ctx context.Context, mode model.PlayMode) error {
	if err := s.playlist.SetMode(mode); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// SetVolume validates, applies and persists the volume. It returns the applied value.
func (s *Session) SetVolume(ctx context.Context, v float64) (float64, error) {
	applied, err := audio.ValidateVolume(v)
	if err != nil {
		return 0, err
	}
	s.storeVolume(applied)
	s.persist(ctx)
	return applied, nil
}

// SetBufferTarget changes and persists the buffer size.
func (s *Session) SetBufferTarget(ctx context.Context, n int) error {
	if err := s.playlist.SetBufferTarget(n); err != nil {
		return err
	}
	s.worker.Kick()
	s.persist(ctx)
	return nil
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:        s.id,
		ChannelID: s.channelID,
		Target:    s.pipeline.Target(),
		Phase:     s.engine.Phase(),
		Volume:    s.Volume(),
		Importing: s.Importing(),
		CreatedAt: s.createdAt,
		Playlist:  s.playlist.Snapshot(),
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.controls == nil {
		return
	}
	c := model.Controls{
		Mode:       s.playlist.Mode(),
		Volume:     s.Volume(),
		BufferSize: s.playlist.BufferTarget(),
	}
	if err := s.controls.SaveControls(ctx, s.channelID, c); err != nil {
		logger.Warn("[Session] 保存播放设置失败", logger.String("channel", s.channelID), logger.ErrorField(err))
	}
}

func (s *Session) restoreControls(ctx context.Context) {
	if s.controls == nil {
		return
	}
	c, ok, err := s.controls.LoadControls(ctx, s.channelID)
	if err != nil {
		logger.Warn("[Session] 读取播放设置失败", logger.String("channel", s.channelID), logger.ErrorField(err))
		return
	}
	if !ok {
		return
	}
	if err := s.playlist.SetMode(c.Mode); err != nil {
		logger.Debug("[Session] ignore persisted mode", logger.ErrorField(err))
	}
	if v, err := audio.ValidateVolume(c.Volume); err == nil {
		s.storeVolume(v)
	}
	if c.BufferSize > 0 {
		_ = s.playlist.SetBufferTarget(c.BufferSize)
	}
	logger.Info("[Session] 已恢复播放设置",
		logger.String("channel", s.channelID),
		logger.String("mode", c.Mode.String()),
		logger.Float64("volume", s.Volume()),
		logger.Int("buffer", s.playlist.BufferTarget()))
}
