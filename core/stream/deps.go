package stream

import (
	"context"
	"errors"
	"io"

	"VoiceFM/core/audio"
	"VoiceFM/model"
)

var (
	ErrSessionExists     = errors.New("stream: session already exists for channel")
	ErrSessionNotFound   = errors.New("stream: session not found")
	ErrPlaylistExhausted = errors.New("stream: playlist exhausted")
	ErrInvalidVolume     = audio.ErrInvalidVolume
	ErrNoFetcher         = errors.New("stream: no fetcher configured")
	ErrNoPlaylistSource  = errors.New("stream: no playlist source configured")
	ErrNotAFile          = errors.New("stream: path is not a regular file")
)

// TrackStore keeps fetched audio on local disk.
type TrackStore interface {
	Exists(id string) (string, bool)
	Save(id string, r io.Reader) (string, error)
}

// Restorer is implemented by stores that mirror audio to object storage.
type Restorer interface {
	Restore(ctx context.Context, id string) (string, error)
}

// Fetcher resolves a catalog id into metadata and an audio body.
type Fetcher interface {
	Resolve(ctx context.Context, id string) (*model.Track, io.ReadCloser, error)
}

// Catalog remembers track metadata between runs.
type Catalog interface {
	Remember(ctx context.Context, t model.Track) error
	Lookup(ctx context.Context, id string) (*model.Track, error)
}

// PlaylistSource expands a catalog playlist into tracks.
type PlaylistSource interface {
	PlaylistTracks(ctx context.Context, playlistID string) ([]model.Track, error)
}

// DurationProber reads the length of a local file.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// ControlStore persists per-channel controls.
type ControlStore interface {
	LoadControls(ctx context.Context, channelID string) (model.Controls, bool, error)
	SaveControls(ctx context.Context, channelID string, c model.Controls) error
}

// VoiceChannel is a joined voice channel. Leave ends it.
type VoiceChannel interface {
	Target() string
	Leave(ctx context.Context) error
}

// Joiner joins voice channels.
type Joiner interface {
	Join(ctx context.Context, channelID, password string) (VoiceChannel, error)
}

// JoinerFunc adapts a function to Joiner.
type JoinerFunc func(ctx context.Context, channelID, password string) (VoiceChannel, error)

func (f JoinerFunc) Join(ctx context.Context, channelID, password string) (VoiceChannel, error) {
	return f(ctx, channelID, password)
}

// WakeSource hands out signals that fire when new audio lands in the store.
type WakeSource interface {
	Subscribe() (<-chan struct{}, func())
}

// Playback is one track being streamed.
type Playback interface {
	Done() <-chan struct{}
	Err() error
}

// Player starts and stops per-track playback.
type Player interface {
	Start(ctx context.Context, track model.Track, volume float64) (Playback, error)
	Stop(p Playback)
}

// Pipeline is a Player with a transport lifecycle.
type Pipeline interface {
	Player
	Open(ctx context.Context) error
	Target() string
	Close()
}

// RunnerPipeline adapts an audio.Runner to Pipeline.
func RunnerPipeline(r *audio.Runner) Pipeline {
	return runnerPipeline{r}
}

type runnerPipeline struct {
	r *audio.Runner
}

func (p runnerPipeline) Open(ctx context.Context) error { return p.r.Open(ctx) }
func (p runnerPipeline) Target() string                 { return p.r.Target() }
func (p runnerPipeline) Close()                         { p.r.Close() }

func (p runnerPipeline) Start(ctx context.Context, track model.Track, volume float64) (Playback, error) {
	s, err := p.r.Start(ctx, track, volume)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p runnerPipeline) Stop(pb Playback) {
	if s, ok := pb.(*audio.PipelineSession); ok {
		p.r.Stop(s)
	}
}
