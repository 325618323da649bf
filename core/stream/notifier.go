package stream

import (
	"context"
	"errors"
	"time"

	"VoiceFM/logger"
	"VoiceFM/model"
)

// Notifier receives session events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev model.Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev model.Event) error {
	return f(ctx, ev)
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev model.Event) error {
	fields := []logger.Field{
		logger.String("channel", ev.ChannelID),
		logger.String("session", ev.SessionID),
		logger.String("kind", string(ev.Kind)),
	}
	if ev.Track != nil {
		fields = append(fields, logger.String("track", ev.Track.ID))
	}
	logger.Info(ev.Message, fields...)
	return nil
}

// emitter stamps events with the session identity.
type emitter struct {
	notifier  Notifier
	sessionID string
	channelID string
}

func (e emitter) emit(ctx context.Context, kind model.EventKind, track *model.Track, msg string) {
	if e.notifier == nil {
		return
	}
	ev := model.Event{
		SessionID: e.sessionID,
		ChannelID: e.channelID,
		Kind:      kind,
		Message:   msg,
		At:        time.Now(),
	}
	if track != nil {
		t := *track
		ev.Track = &t
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		logger.Warn("[Notifier] 通知发送失败",
			logger.String("channel", e.channelID),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
	}
}
