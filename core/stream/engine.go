package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"VoiceFM/core/playlist"
	"VoiceFM/logger"
	"VoiceFM/model"
)

// Phase is where the playback engine is in its loop.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseStreaming
	PhaseDraining
	PhaseEmptyWait
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseStreaming:
		return "streaming"
	case PhaseDraining:
		return "draining"
	case PhaseEmptyWait:
		return "empty_wait"
	case PhaseStopped:
		return "stopped"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	for ph := PhaseIdle; ph <= PhaseStopped; ph++ {
		if ph.String() == string(b) {
			*p = ph
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Playlist *playlist.Playlist
	Player   Player

	PollInterval   time.Duration
	EmptyPollLimit int
	StartupGrace   time.Duration

	// Volume is read when each track starts.
	Volume func() float64
	// Importing holds the empty counter while a bulk import runs.
	Importing func() bool

	Notifier  Notifier
	SessionID string
	ChannelID string
}

// Engine plays tracks from the playlist one after another.
type Engine struct {
	playlist  *playlist.Playlist
	player    Player
	poll      time.Duration
	limit     int
	grace     time.Duration
	volume    func() float64
	importing func() bool
	em        emitter

	phase atomic.Int32

	mu          sync.Mutex
	trackCancel context.CancelFunc
}

// NewEngine creates an engine. Run drives it.
func NewEngine(opts EngineOptions) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.EmptyPollLimit <= 0 {
		opts.EmptyPollLimit = 5
	}
	if opts.Volume == nil {
		opts.Volume = func() float64 { return 1.0 }
	}
	if opts.Importing == nil {
		opts.Importing = func() bool { return false }
	}
	e := &Engine{
		playlist:  opts.Playlist,
		player:    opts.Player,
		poll:      opts.PollInterval,
		limit:     opts.EmptyPollLimit,
		grace:     opts.StartupGrace,
		volume:    opts.Volume,
		importing: opts.Importing,
		em:        emitter{notifier: opts.Notifier, sessionID: opts.SessionID, channelID: opts.ChannelID},
	}
	e.phase.Store(int32(PhaseIdle))
	return e
}

// Phase reports the current state.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// Run plays until ctx is done or the playlist stays empty for EmptyPollLimit polls,
// in which case it returns ErrPlaylistExhausted.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setPhase(PhaseStopped)
	e.setPhase(PhaseIdle)

	if e.grace > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.grace):
		}
	}

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	empty := 0
	counted := true
	// tracks that failed since the last one that played
	failed := make(map[string]bool)
	for {
		if ctx.Err() != nil {
			return nil
		}

		track, gen := e.playlist.Acquire()
		if track != nil {
			empty = 0
			counted = true
			if failed[track.ID] {
				// every remaining candidate has failed once
				e.playlist.Abandon(gen)
				logger.Error("[Engine] 所有歌曲均无法播放，停止会话",
					logger.String("channel", e.em.channelID),
					logger.Int("failed", len(failed)))
				e.em.emit(ctx, model.EventQueueEmpty, nil, "播放列表中的歌曲均无法播放，即将退出频道")
				return ErrPlaylistExhausted
			}
			if e.play(ctx, track, gen) {
				clear(failed)
				continue
			}
			failed[track.ID] = true
			if !e.backoff(ctx) {
				return nil
			}
			continue
		}

		switch {
		case e.playlist.HasPending() || e.importing():
			empty = 0
			e.setPhase(PhaseIdle)
		case counted:
			empty++
			e.setPhase(PhaseEmptyWait)
			logger.Debug("[Engine] 播放列表为空",
				logger.String("channel", e.em.channelID),
				logger.Int("polls", empty),
				logger.Int("limit", e.limit))
			if empty >= e.limit {
				e.em.emit(ctx, model.EventQueueEmpty, nil, "播放列表为空，即将退出频道")
				return ErrPlaylistExhausted
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			counted = true
		case <-e.playlist.Updated():
			counted = false
		}
	}
}

// Skip advances the playlist and interrupts the streaming track.
func (e *Engine) Skip() (old, next *model.Track) {
	old, next = e.playlist.Skip()
	e.interrupt()
	return old, next
}

func (e *Engine) interrupt() {
	e.mu.Lock()
	cancel := e.trackCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// backoff waits one poll interval after a failed track. It reports false if ctx ended.
func (e *Engine) backoff(ctx context.Context) bool {
	timer := time.NewTimer(e.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// play streams one track. It returns false when the track was abandoned
// because its processes failed.
func (e *Engine) play(ctx context.Context, track *model.Track, gen uint64) bool {
	e.setPhase(PhaseLoading)

	tctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.trackCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.trackCancel = nil
		e.mu.Unlock()
		cancel()
	}()

	pb, err := e.player.Start(tctx, *track, e.volume())
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.Error("[Engine] 启动播放失败，跳过该曲目",
			logger.String("channel", e.em.channelID),
			logger.String("track", track.ID),
			logger.ErrorField(err))
		e.playlist.Abandon(gen)
		return false
	}

	e.setPhase(PhaseStreaming)
	if e.playlist.MarkNotified(gen) {
		e.em.emit(ctx, model.EventNowPlaying, track, "正在播放: "+track.DisplayName())
	}

	interrupted := e.await(tctx, pb, gen)

	e.setPhase(PhaseDraining)
	e.player.Stop(pb)

	if ctx.Err() != nil || e.playlist.Generation() != gen {
		return true
	}
	if interrupted {
		return true
	}
	if err := pb.Err(); err != nil {
		logger.Error("[Engine] 播放进程异常退出",
			logger.String("channel", e.em.channelID),
			logger.String("track", track.ID),
			logger.ErrorField(err))
		e.playlist.Abandon(gen)
		return false
	}

	res, ok := e.playlist.Finish(gen)
	if !ok {
		return true
	}
	if res.Restarting {
		e.em.emit(ctx, model.EventListRestart, nil, "列表播放完毕，将重新开始播放")
	}
	if !res.Repeating && res.Next != nil && e.playlist.Mode() != model.SingleLoop {
		e.em.emit(ctx, model.EventUpNext, res.Next, "即将播放: "+res.Next.DisplayName())
	}
	return true
}

// await blocks until the track ends or is interrupted. It reports an interruption.
func (e *Engine) await(ctx context.Context, pb Playback, gen uint64) bool {
	watch := time.NewTicker(e.poll)
	defer watch.Stop()
	for {
		select {
		case <-pb.Done():
			return false
		case <-ctx.Done():
			return true
		case <-watch.C:
			// catches skips made on the playlist directly
			if e.playlist.Generation() != gen {
				return true
			}
		}
	}
}
