package repository

import (
	"context"

	"VoiceFM/model"
)

// PlayRecorder 记录一次播放
type PlayRecorder interface {
	RecordPlay(ctx context.Context, t model.Track) error
}

// PlayCounter counts plays from now_playing events. Local files are not counted.
type PlayCounter struct {
	recorder PlayRecorder
}

// NewPlayCounter 创建播放计数通知器
func NewPlayCounter(recorder PlayRecorder) *PlayCounter {
	return &PlayCounter{recorder: recorder}
}

// Notify implements stream.Notifier.
func (c *PlayCounter) Notify(ctx context.Context, ev model.Event) error {
	if ev.Kind != model.EventNowPlaying || ev.Track == nil || ev.Track.IsLocal() {
		return nil
	}
	return c.recorder.RecordPlay(ctx, *ev.Track)
}
