package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VoiceFM/config"
	"VoiceFM/core/audio"
	"VoiceFM/logger"
	"VoiceFM/model"
)

// PipelineFactory builds the pipeline for a channel streaming to target.
type PipelineFactory func(channelID, target string) (Pipeline, error)

// FIFOPipelines builds runners that feed the transport through a named pipe in dir.
func FIFOPipelines(settings audio.Settings, launcher audio.Launcher, dir string) PipelineFactory {
	return func(channelID, target string) (Pipeline, error) {
		conduit, err := audio.NewFIFOConduit(dir, channelID)
		if err != nil {
			return nil, err
		}
		return RunnerPipeline(audio.NewRunner(audio.RunnerOptions{
			Settings: settings,
			Launcher: launcher,
			Conduit:  conduit,
			Target:   target,
			Channel:  channelID,
		})), nil
	}
}

// Defaults are the per-session settings a Manager applies.
type Defaults struct {
	Mode           model.PlayMode
	Volume         float64
	BufferSize     int
	PollInterval   time.Duration
	EmptyPollLimit int
	StartupGrace   time.Duration
	// StaticTarget is used when no voice joiner is configured.
	StaticTarget string
}

// DefaultsFromConfig reads session defaults from cfg.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		Mode:           model.Sequential,
		Volume:         cfg.AudioVolume,
		BufferSize:     cfg.BufferSize,
		PollInterval:   cfg.PollInterval,
		EmptyPollLimit: cfg.EmptyPollLimit,
		StartupGrace:   cfg.StartupGrace,
		StaticTarget:   cfg.RTPTarget,
	}
}

// ManagerOptions holds what sessions share.
type ManagerOptions struct {
	Registry  *Registry
	Pipelines PipelineFactory
	Joiner    Joiner
	Defaults  Defaults

	Store    TrackStore
	Fetcher  Fetcher
	Catalog  Catalog
	Source   PlaylistSource
	Prober   DurationProber
	Controls ControlStore
	Notifier Notifier
	Wake     WakeSource
}

// OpenRequest asks for a session on a channel.
type OpenRequest struct {
	ChannelID string `json:"channel_id"`
	Password  string `json:"password,omitempty"`
	// Target overrides the RTP destination and skips joining a voice channel.
	Target string `json:"target,omitempty"`
}

// Manager creates and tracks sessions.
type Manager struct {
	opts     ManagerOptions
	registry *Registry
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	return &Manager{opts: opts, registry: opts.Registry}
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Open joins the channel if needed, then starts and registers a session.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if _, ok := m.registry.Get(channelID); ok {
		return nil, ErrSessionExists
	}

	var voice VoiceChannel
	target := strings.TrimSpace(req.Target)
	if target == "" && m.opts.Joiner != nil {
		ch, err := m.opts.Joiner.Join(ctx, channelID, req.Password)
		if err != nil {
			return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
		}
		voice = ch
		target = ch.Target()
	}
	if target == "" {
		target = m.opts.Defaults.StaticTarget
	}

	pipeline, err := m.opts.Pipelines(channelID, target)
	if err != nil {
		leave(ctx, voice)
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	d := m.opts.Defaults
	sess := NewSession(SessionOptions{
		ChannelID:      channelID,
		Pipeline:       pipeline,
		Voice:          voice,
		Store:          m.opts.Store,
		Fetcher:        m.opts.Fetcher,
		Catalog:        m.opts.Catalog,
		Source:         m.opts.Source,
		Prober:         m.opts.Prober,
		Controls:       m.opts.Controls,
		Notifier:       m.opts.Notifier,
		Wake:           m.opts.Wake,
		Mode:           d.Mode,
		Volume:         d.Volume,
		BufferSize:     d.BufferSize,
		PollInterval:   d.PollInterval,
		EmptyPollLimit: d.EmptyPollLimit,
		StartupGrace:   d.StartupGrace,
		OnStop:         m.registry.Remove,
	})

	if err := m.registry.Add(sess); err != nil {
		sess.Stop(ctx)
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		sess.Stop(ctx)
		return nil, err
	}

	logger.Info("[Manager] 频道会话已创建",
		logger.String("channel", channelID),
		logger.String("session", sess.ID()),
		logger.Bool("voice", voice != nil))
	return sess, nil
}

// Get returns the session for channelID.
func (m *Manager) Get(channelID string) (*Session, error) {
	s, ok := m.registry.Get(channelID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns every live session.
func (m *Manager) List() []*Session {
	return m.registry.List()
}

// Close stops the session for channelID.
func (m *Manager) Close(ctx context.Context, channelID string) error {
	s, err := m.Get(channelID)
	if err != nil {
		return err
	}
	s.Stop(ctx)
	return nil
}

// StopAll stops every session.
func (m *Manager) StopAll(ctx context.Context) {
	m.registry.StopAll(ctx)
}

func leave(ctx context.Context, v VoiceChannel) {
	if v == nil {
		return
	}
	if err := v.Leave(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("[Manager] 退出语音频道失败", logger.ErrorField(err))
	}
}
