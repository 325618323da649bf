package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"VoiceFM/model"
)

// trail records the order in which collaborators were touched.
type trail struct {
	mu    sync.Mutex
	items []string
}

func (t *trail) add(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.items = append(t.items, s)
	t.mu.Unlock()
}

func (t *trail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}

func (t *trail) index(s string) int {
	for i, it := range t.snapshot() {
		if it == s {
			return i
		}
	}
	return -1
}

// recorder is a Notifier that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
	trail  *trail
}

func (r *recorder) Notify(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.trail.add("event." + string(ev.Kind))
	return nil
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) count(kind model.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

type fakePlayback struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{done: make(chan struct{})}
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *fakePlayback) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// fakePipeline plays tracks according to behave; by default each track ends at once.
type fakePipeline struct {
	mu       sync.Mutex
	attempts int
	started  []model.Track
	volumes  []float64
	stops    int
	opens    int
	closes   int
	openErr  error
	startErr map[string]error
	behave   func(t model.Track) *fakePlayback
	target   string
	trail    *trail
}

func (p *fakePipeline) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	return p.openErr
}

func (p *fakePipeline) Target() string { return p.target }

func (p *fakePipeline) Close() {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.trail.add("pipeline.close")
}

func (p *fakePipeline) Start(ctx context.Context, t model.Track, volume float64) (Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if err := p.startErr[t.ID]; err != nil {
		return nil, err
	}
	p.started = append(p.started, t)
	p.volumes = append(p.volumes, volume)
	if p.behave != nil {
		return p.behave(t), nil
	}
	pb := newFakePlayback()
	pb.finish(nil)
	return pb, nil
}

func (p *fakePipeline) Stop(pb Playback) {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	if fp, ok := pb.(*fakePlayback); ok {
		fp.finish(nil)
	}
	p.trail.add("player.stop")
}

func (p *fakePipeline) startedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.started))
	for _, t := range p.started {
		out = append(out, t.ID)
	}
	return out
}

func (p *fakePipeline) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started)
}

// attemptCount counts Start calls, failed ones included.
func (p *fakePipeline) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// hangingPlayback never ends until stopped.
func hangingPlayback(model.Track) *fakePlayback {
	return newFakePlayback()
}

type fakeStore struct {
	mu    sync.Mutex
	files map[string]string
	saved map[string][]byte
}

func newFakeStore(cached ...string) *fakeStore {
	s := &fakeStore{files: make(map[string]string), saved: make(map[string][]byte)}
	for _, id := range cached {
		s.files[id] = "/lib/" + id + ".mp3"
	}
	return s
}

func (s *fakeStore) Exists(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.files[id]
	return p, ok
}

func (s *fakeStore) Save(id string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = b
	s.files[id] = "/lib/" + id + ".mp3"
	return s.files[id], nil
}

type mirrorStore struct {
	*fakeStore
	mirrored map[string]bool
	restores int
}

func (m *mirrorStore) Restore(ctx context.Context, id string) (string, error) {
	m.restores++
	if !m.mirrored[id] {
		return "", errors.New("object not found")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = "/lib/" + id + ".mp3"
	return m.files[id], nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	meta  map[string]model.Track
	err   error
	block bool
	trail *trail
	began chan string
}

func (f *fakeFetcher) Resolve(ctx context.Context, id string) (*model.Track, io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	block, err := f.block, f.err
	meta, ok := f.meta[id]
	f.mu.Unlock()

	if f.began != nil {
		select {
		case f.began <- id:
		default:
		}
	}
	if block {
		<-ctx.Done()
		f.trail.add("fetch.cancelled")
		return nil, nil, ctx.Err()
	}
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		meta = model.Track{ID: id}
	}
	return &meta, io.NopCloser(bytes.NewReader([]byte("audio-" + id))), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCatalog struct {
	mu         sync.Mutex
	remembered map[string]model.Track
}

func (c *fakeCatalog) Remember(_ context.Context, t model.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remembered == nil {
		c.remembered = make(map[string]model.Track)
	}
	c.remembered[t.ID] = t
	return nil
}

func (c *fakeCatalog) Lookup(_ context.Context, id string) (*model.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.remembered[id]; ok {
		return &t, nil
	}
	return nil, nil
}

type fakeVoice struct {
	target string
	trail  *trail
	mu     sync.Mutex
	leaves int
}

func (v *fakeVoice) Target() string { return v.target }

func (v *fakeVoice) Leave(context.Context) error {
	v.mu.Lock()
	v.leaves++
	v.mu.Unlock()
	v.trail.add("voice.leave")
	return nil
}

func (v *fakeVoice) leaveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leaves
}

type fakeControls struct {
	mu     sync.Mutex
	stored map[string]model.Controls
	saves  int
}

func (c *fakeControls) LoadControls(_ context.Context, ch string) (model.Controls, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stored[ch]
	return v, ok, nil
}

func (c *fakeControls) SaveControls(_ context.Context, ch string, v model.Controls) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = make(map[string]model.Controls)
	}
	c.stored[ch] = v
	c.saves++
	return nil
}

func (c *fakeControls) get(ch string) model.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored[ch]
}

type fakeSource struct {
	tracks  []model.Track
	err     error
	release chan struct{}
}

func (s *fakeSource) PlaylistTracks(ctx context.Context, id string) ([]model.Track, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.tracks, s.err
}

func cached(ids ...string) []model.Track {
	out := make([]model.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Track{ID: id, Title: "song " + id, Artist: "artist", LocalPath: "/lib/" + id + ".mp3"})
	}
	return out
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
