package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceFM/config"
	"VoiceFM/model"
)

type fakeJoiner struct {
	mu     sync.Mutex
	voices map[string]*fakeVoice
	err    error
}

func (j *fakeJoiner) Join(_ context.Context, channelID, _ string) (VoiceChannel, error) {
	if j.err != nil {
		return nil, j.err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.voices == nil {
		j.voices = make(map[string]*fakeVoice)
	}
	v := &fakeVoice{target: "rtp://voice/" + channelID}
	j.voices[channelID] = v
	return v, nil
}

func (j *fakeJoiner) voice(channelID string) *fakeVoice {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.voices[channelID]
}

type pipelineLog struct {
	mu      sync.Mutex
	targets map[string]string
	built   map[string]*fakePipeline
	err     error
	openErr error
}

func (l *pipelineLog) factory(channelID, target string) (Pipeline, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.targets == nil {
		l.targets = make(map[string]string)
		l.built = make(map[string]*fakePipeline)
	}
	l.targets[channelID] = target
	p := &fakePipeline{target: target, openErr: l.openErr}
	l.built[channelID] = p
	return p, nil
}

func (l *pipelineLog) target(channelID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targets[channelID]
}

func newTestManager(joiner Joiner, pipes *pipelineLog) *Manager {
	opts := ManagerOptions{
		Pipelines: pipes.factory,
		Defaults: Defaults{
			Mode:           model.Sequential,
			Volume:         1,
			BufferSize:     2,
			PollInterval:   5 * time.Millisecond,
			EmptyPollLimit: 1000,
			StaticTarget:   "rtp://127.0.0.1:5004",
		},
		Store: newFakeStore(),
	}
	if joiner != nil {
		opts.Joiner = joiner
	}
	return NewManager(opts)
}

func TestManagerOpenJoinsVoice(t *testing.T) {
	joiner := &fakeJoiner{}
	pipes := &pipelineLog{}
	m := newTestManager(joiner, pipes)
	t.Cleanup(func() { m.StopAll(context.Background()) })

	sess, err := m.Open(context.Background(), OpenRequest{ChannelID: " c1 "})
	require.NoError(t, err)
	assert.Equal(t, "c1", sess.ChannelID())
	assert.Equal(t, "rtp://voice/c1", pipes.target("c1"))
	assert.Equal(t, "rtp://voice/c1", sess.Snapshot().Target)

	got, err := m.Get("c1")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
	assert.ErrorIs(t, err, ErrSessionExists)

	require.NoError(t, m.Close(context.Background(), "c1"))
	_, err = m.Get("c1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, joiner.voice("c1").leaveCount())
}

func TestManagerExplicitTargetSkipsJoin(t *testing.T) {
	joiner := &fakeJoiner{}
	pipes := &pipelineLog{}
	m := newTestManager(joiner, pipes)
	t.Cleanup(func() { m.StopAll(context.Background()) })

	_, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1", Target: "rtp://10.1.1.1:9000"})
	require.NoError(t, err)
	assert.Equal(t, "rtp://10.1.1.1:9000", pipes.target("c1"))
	assert.Nil(t, joiner.voice("c1"))
}

func TestManagerStaticTargetWithoutJoiner(t *testing.T) {
	pipes := &pipelineLog{}
	m := newTestManager(nil, pipes)
	t.Cleanup(func() { m.StopAll(context.Background()) })

	_, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "rtp://127.0.0.1:5004", pipes.target("c1"))
	assert.Len(t, m.List(), 1)
}

func TestManagerOpenFailures(t *testing.T) {
	t.Run("blank channel", func(t *testing.T) {
		m := newTestManager(nil, &pipelineLog{})
		_, err := m.Open(context.Background(), OpenRequest{ChannelID: "  "})
		assert.Error(t, err)
	})

	t.Run("join fails", func(t *testing.T) {
		m := newTestManager(&fakeJoiner{err: errors.New("kook: 40100")}, &pipelineLog{})
		_, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "join voice channel c1")
		assert.Zero(t, m.Registry().Len())
	})

	t.Run("pipeline cannot be built", func(t *testing.T) {
		joiner := &fakeJoiner{}
		m := newTestManager(joiner, &pipelineLog{err: errors.New("mkfifo: permission denied")})
		_, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
		require.Error(t, err)
		assert.Equal(t, 1, joiner.voice("c1").leaveCount())
		assert.Zero(t, m.Registry().Len())
	})

	t.Run("pipeline cannot open", func(t *testing.T) {
		joiner := &fakeJoiner{}
		m := newTestManager(joiner, &pipelineLog{openErr: errors.New("transport exited")})
		_, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
		require.Error(t, err)
		assert.Equal(t, 1, joiner.voice("c1").leaveCount())
		assert.Zero(t, m.Registry().Len())
	})
}

func TestManagerCloseUnknown(t *testing.T) {
	m := newTestManager(nil, &pipelineLog{})
	assert.ErrorIs(t, m.Close(context.Background(), "nope"), ErrSessionNotFound)
}

func TestManagerSessionLeavesRegistryWhenExhausted(t *testing.T) {
	pipes := &pipelineLog{}
	m := newTestManager(nil, pipes)
	m.opts.Defaults.EmptyPollLimit = 2

	sess, err := m.Open(context.Background(), OpenRequest{ChannelID: "c1"})
	require.NoError(t, err)
	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	require.Eventually(t, func() bool { return m.Registry().Len() == 0 }, waitFor, tick)
}

func TestDefaultsFromConfig(t *testing.T) {
	cfg := &config.Config{
		AudioVolume:    0.6,
		BufferSize:     4,
		PollInterval:   time.Second,
		EmptyPollLimit: 7,
		StartupGrace:   2 * time.Second,
		RTPTarget:      "rtp://1.2.3.4:5000",
	}
	d := DefaultsFromConfig(cfg)
	assert.Equal(t, Defaults{
		Mode:           model.Sequential,
		Volume:         0.6,
		BufferSize:     4,
		PollInterval:   time.Second,
		EmptyPollLimit: 7,
		StartupGrace:   2 * time.Second,
		StaticTarget:   "rtp://1.2.3.4:5000",
	}, d)
}
