package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VoiceFM/core/playlist"
	"VoiceFM/logger"
	"VoiceFM/model"
)

// WorkerOptions configures a download Worker.
type WorkerOptions struct {
	Playlist *playlist.Playlist
	Store    TrackStore
	Fetcher  Fetcher
	Catalog  Catalog
	Prober   DurationProber
	Interval time.Duration
	// Wake fires when the store sees a new file; may be nil.
	Wake <-chan struct{}

	Notifier  Notifier
	SessionID string
	ChannelID string
}

// Worker keeps the active queue topped up, fetching one track at a time.
type Worker struct {
	playlist *playlist.Playlist
	store    TrackStore
	fetcher  Fetcher
	catalog  Catalog
	prober   DurationProber
	interval time.Duration
	wake     <-chan struct{}
	kick     chan struct{}
	em       emitter
}

// NewWorker creates a worker. Run starts it.
func NewWorker(opts WorkerOptions) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Worker{
		playlist: opts.Playlist,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		catalog:  opts.Catalog,
		prober:   opts.Prober,
		interval: opts.Interval,
		wake:     opts.Wake,
		kick:     make(chan struct{}, 1),
		em:       emitter{notifier: opts.Notifier, sessionID: opts.SessionID, channelID: opts.ChannelID},
	}
}

// Kick wakes the worker without waiting for the next tick.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run loops until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Debug("[Worker] started", logger.String("channel", w.em.channelID))
	defer logger.Debug("[Worker] stopped", logger.String("channel", w.em.channelID))

	for {
		w.step(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		case <-w.wake:
		}
	}
}

// step refills and, when the buffer is short, materializes one queued request.
func (w *Worker) step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.playlist.Refill()
	if !w.playlist.NeedsDownload() {
		return
	}

	queue := w.playlist.Downloads()
	req, ok := queue.Pop()
	if !ok {
		return
	}
	defer queue.Done(req.ID)

	track, err := w.materialize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("[Worker] fetch cancelled", logger.String("track", req.ID))
			return
		}
		logger.Warn("[Worker] 歌曲下载失败，已跳过",
			logger.String("channel", w.em.channelID),
			logger.String("track", req.ID),
			logger.ErrorField(err))
		failed := req.Track()
		w.em.emit(ctx, model.EventFetchFailed, &failed, fmt.Sprintf("下载失败: %s", failed.DisplayName()))
		return
	}

	if !w.playlist.MergeDownloaded(track) {
		logger.Debug("[Worker] track already queued", logger.String("track", track.ID))
		return
	}
	logger.Info("[Worker] 歌曲已就绪",
		logger.String("channel", w.em.channelID),
		logger.String("track", track.ID),
		logger.String("name", track.DisplayName()))
}

// materialize returns req as a track with a local file, trying the store,
// the object-storage mirror and the fetcher in that order.
func (w *Worker) materialize(ctx context.Context, req model.DownloadRequest) (model.Track, error) {
	track := req.Track()
	if w.catalog != nil && track.Title == "" {
		if known, err := w.catalog.Lookup(ctx, req.ID); err == nil && known != nil {
			track = mergeMetadata(track, *known)
		}
	}

	if w.store == nil {
		return track, errors.New("no track store configured")
	}
	if path, ok := w.store.Exists(req.ID); ok {
		track.LocalPath = path
		return w.withDuration(ctx, track), nil
	}

	if r, ok := w.store.(Restorer); ok {
		path, err := r.Restore(ctx, req.ID)
		if err == nil {
			track.LocalPath = path
			return w.withDuration(ctx, track), nil
		}
		logger.Debug("[Worker] restore from mirror missed", logger.String("track", req.ID), logger.ErrorField(err))
	}

	if w.fetcher == nil {
		return track, ErrNoFetcher
	}
	meta, body, err := w.fetcher.Resolve(ctx, req.ID)
	if err != nil {
		return track, fmt.Errorf("resolve %s: %w", req.ID, err)
	}
	defer body.Close()

	path, err := w.store.Save(req.ID, body)
	if err != nil {
		return track, fmt.Errorf("save %s: %w", req.ID, err)
	}
	if meta != nil {
		track = mergeMetadata(track, *meta)
	}
	track.LocalPath = path
	track = w.withDuration(ctx, track)

	if w.catalog != nil {
		if err := w.catalog.Remember(ctx, track); err != nil {
			logger.Warn("[Worker] 保存歌曲信息失败", logger.String("track", track.ID), logger.ErrorField(err))
		}
	}
	return track, nil
}

func (w *Worker) withDuration(ctx context.Context, t model.Track) model.Track {
	if t.DurationSeconds > 0 || w.prober == nil {
		return t
	}
	d, err := w.prober.Probe(ctx, t.LocalPath)
	if err != nil {
		logger.Debug("[Worker] probe duration failed", logger.String("track", t.ID), logger.ErrorField(err))
		return t
	}
	t.DurationSeconds = d
	return t
}

// mergeMetadata fills empty fields of base from extra. The id never changes.
func mergeMetadata(base, extra model.Track) model.Track {
	if base.Title == "" {
		base.Title = extra.Title
	}
	if base.Artist == "" {
		base.Artist = extra.Artist
	}
	if base.Album == "" {
		base.Album = extra.Album
	}
	if base.DurationSeconds == 0 {
		base.DurationSeconds = extra.DurationSeconds
	}
	return base
}
