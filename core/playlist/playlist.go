package playlist

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"VoiceFM/model"
)

var (
	ErrIndexOutOfRange     = errors.New("playlist: index out of range")
	ErrInvalidMode         = errors.New("playlist: invalid play mode")
	ErrInvalidBufferTarget = errors.New("playlist: buffer target must be at least 1")
	ErrDuplicateTrack      = errors.New("playlist: track already queued")
	ErrTrackNotCached      = errors.New("playlist: track has no local file")
)

const (
	// DefaultBufferTarget 默认保持的就绪曲目数
	DefaultBufferTarget = 3

	maxReshuffle    = 3
	maxSelectPasses = 4
)

// Locator answers whether a track id already has a local file.
// Implementations may touch the disk; the playlist never calls it with its lock held.
type Locator interface {
	Exists(id string) (string, bool)
}

// AddResult describes what Submit did with a request.
type AddResult int

const (
	AddInvalid   AddResult = iota // 空 id
	AddDuplicate                  // 已在队列、下载中、正在播放或已就绪
	AddMerged                     // 本地已缓存，直接进入播放队列
	AddQueued                     // 进入下载队列
)

func (r AddResult) String() string {
	switch r {
	case AddInvalid:
		return "invalid"
	case AddDuplicate:
		return "duplicate"
	case AddMerged:
		return "merged"
	case AddQueued:
		return "queued"
	}
	return "unknown"
}

// FinishResult is what the engine learns when a track ends on its own.
type FinishResult struct {
	Repeating  bool         // 单曲循环，同一首歌将再次播放
	Restarting bool         // 列表循环即将从头开始
	Next       *model.Track // 下一首（若已就绪）
}

// Snapshot is a point-in-time copy of the playlist for display.
type Snapshot struct {
	Current      *model.Track            `json:"current,omitempty"`
	StartedAt    time.Time               `json:"startedAt,omitempty"`
	Position     float64                 `json:"position"`
	Active       []model.Track           `json:"active"`
	Lookahead    int                     `json:"lookahead"`
	History      int                     `json:"history"`
	FullSet      int                     `json:"fullSet"`
	Pending      []model.DownloadRequest `json:"pending"`
	InFlight     int                     `json:"inFlight"`
	Mode         model.PlayMode          `json:"mode"`
	BufferTarget int                     `json:"bufferTarget"`
	Generation   uint64                  `json:"generation"`
}

// Options configures a Playlist. Zero values fall back to defaults.
type Options struct {
	BufferTarget int
	Mode         model.PlayMode
	Locator      Locator
	Downloads    *DownloadQueue
	Rand         *rand.Rand
	Now          func() time.Time
}

// Playlist is the per-session play queue.
//
//	active    就绪队列，全部已缓存
//	lookahead 待补充的暂存列表（来自歌单导入）
//	fullSet   最近一次导入的完整歌单
//	history   列表循环模式下已播放的曲目
type Playlist struct {
	mu sync.Mutex

	locator   Locator
	downloads *DownloadQueue
	rng       *rand.Rand
	now       func() time.Time

	active        []model.Track
	lookahead     []model.Track
	lookaheadMode model.PlayMode
	fullSet       []model.Track
	history       []model.Track
	// refilling counts batches taken from lookahead and not yet merged
	refilling int

	current    *model.Track
	startedAt  time.Time
	lastPlayed string
	generation uint64
	notified   bool

	mode         model.PlayMode
	bufferTarget int

	updated chan struct{}
}

// New creates an empty playlist.
func New(opts Options) *Playlist {
	if opts.BufferTarget < 1 {
		opts.BufferTarget = DefaultBufferTarget
	}
	if !opts.Mode.Valid() {
		opts.Mode = model.Sequential
	}
	if opts.Downloads == nil {
		opts.Downloads = NewDownloadQueue()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Playlist{
		locator:       opts.Locator,
		downloads:     opts.Downloads,
		rng:           opts.Rand,
		now:           opts.Now,
		mode:          opts.Mode,
		lookaheadMode: opts.Mode,
		bufferTarget:  opts.BufferTarget,
		updated:       make(chan struct{}, 1),
	}
}

// Downloads exposes the queue feeding this playlist.
func (p *Playlist) Downloads() *DownloadQueue {
	return p.downloads
}

// Updated is signalled whenever a track becomes selectable.
func (p *Playlist) Updated() <-chan struct{} {
	return p.updated
}

// GetCurrent returns the in-flight track, selecting one if none is set.
func (p *Playlist) GetCurrent() *model.Track {
	p.mu.Lock()
	if p.current != nil {
		t := *p.current
		p.mu.Unlock()
		return &t
	}
	p.mu.Unlock()
	return p.SelectNext()
}

// Acquire is GetCurrent plus the generation of the returned instance,
// read under the same lock so the pair is consistent.
func (p *Playlist) Acquire() (*model.Track, uint64) {
	p.GetCurrent()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, p.generation
	}
	t := *p.current
	return &t, p.generation
}

// SelectNext retires the current track and picks the next one according to the mode.
func (p *Playlist) SelectNext() *model.Track {
	p.mu.Lock()
	if p.mode == model.SingleLoop && p.current != nil {
		t := *p.current
		p.mu.Unlock()
		return &t
	}
	p.retireLocked()
	p.mu.Unlock()

	for pass := 0; pass < maxSelectPasses; pass++ {
		p.mu.Lock()
		if len(p.active) > 0 {
			t := p.popLocked()
			p.mu.Unlock()
			p.Refill()
			return &t
		}

		refill := false
		switch {
		case len(p.lookahead) > 0:
			refill = true
		case p.mode == model.ListLoop && len(p.history) > 0:
			p.active = append(p.active, p.history...)
			p.history = nil
		case p.mode == model.ListLoop && len(p.fullSet) > 0 && p.downloads.Len() == 0:
			p.rebuildLookaheadLocked()
			refill = true
		default:
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if refill {
			p.Refill()
		}
	}
	return nil
}

// Refill moves tracks from lookahead toward active until the buffer target is met.
// Uncached entries go to the download queue and re-enter active once fetched.
// It returns how many tracks were merged into active.
func (p *Playlist) Refill() int {
	p.mu.Lock()
	batch := p.takeBatchLocked()
	if len(batch) == 0 {
		p.mu.Unlock()
		return 0
	}
	p.refilling++
	p.mu.Unlock()

	cached := make([]bool, len(batch))
	for i := range batch {
		cached[i] = p.resolve(&batch[i])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.refilling--

	merged := 0
	for i, t := range batch {
		if p.containsLocked(t.ID) {
			continue
		}
		if cached[i] {
			p.active = append(p.active, t)
			merged++
			continue
		}
		p.downloads.Push(model.RequestFor(t))
	}
	if merged > 0 {
		if p.mode == model.Random && len(p.active) > 1 {
			p.shuffleLocked(p.active)
		}
		p.signal()
	}
	return merged
}

// Submit routes a request: merged directly on a cache hit, otherwise queued for download.
func (p *Playlist) Submit(req model.DownloadRequest) AddResult {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return AddInvalid
	}
	if p.isKnown(req.ID) {
		return AddDuplicate
	}

	track := req.Track()
	hit := p.resolve(&track)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.knownLocked(req.ID) {
		return AddDuplicate
	}
	if hit {
		p.active = append(p.active, track)
		if p.mode == model.Random && len(p.active) > 1 {
			p.shuffleLocked(p.active)
		}
		p.signal()
		return AddMerged
	}
	if !p.downloads.Push(req) {
		return AddDuplicate
	}
	return AddQueued
}

// Enqueue reports whether req was placed on the download queue.
// A cache hit is merged straight into active and reports false.
func (p *Playlist) Enqueue(req model.DownloadRequest) bool {
	return p.Submit(req) == AddQueued
}

// AddLocal puts an already materialized track straight into active.
func (p *Playlist) AddLocal(t model.Track) error {
	if !t.Cached() {
		return ErrTrackNotCached
	}
	if t.ID == "" {
		t.ID = model.LocalTrackPrefix + t.LocalPath
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.knownLocked(t.ID) {
		return ErrDuplicateTrack
	}
	p.active = append(p.active, t)
	p.signal()
	return nil
}

// MergeDownloaded appends a freshly materialized track. Duplicates are ignored.
func (p *Playlist) MergeDownloaded(t model.Track) bool {
	if !t.Cached() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.containsLocked(t.ID) {
		return false
	}
	p.active = append(p.active, t)
	if p.mode == model.Random && len(p.active) > 1 {
		p.shuffleLocked(p.active)
	}
	p.signal()
	return true
}

// LoadFullSet replaces the imported playlist and rebuilds lookahead for the current mode.
func (p *Playlist) LoadFullSet(tracks []model.Track) int {
	p.mu.Lock()
	p.fullSet = slices.Clone(tracks)
	p.rebuildLookaheadLocked()
	p.mu.Unlock()

	p.Refill()
	return len(tracks)
}

// Skip drops the current track and selects the next one.
// It returns (nil, nil) and changes nothing when nothing is playing.
func (p *Playlist) Skip() (old, next *model.Track) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil, nil
	}
	o := *p.current
	p.retireLocked()
	p.generation++
	p.mu.Unlock()

	return &o, p.SelectNext()
}

// Finish applies the mode rule after a track played to its end.
// A stale generation is ignored and reports false.
func (p *Playlist) Finish(gen uint64) (FinishResult, bool) {
	p.mu.Lock()
	if p.current == nil || gen != p.generation {
		p.mu.Unlock()
		return FinishResult{}, false
	}

	if p.mode == model.SingleLoop {
		p.generation++
		p.notified = false
		p.startedAt = p.now()
		t := *p.current
		p.mu.Unlock()
		return FinishResult{Repeating: true, Next: &t}, true
	}

	p.retireLocked()
	restarting := p.mode == model.ListLoop &&
		len(p.active) == 0 &&
		len(p.lookahead) == 0 &&
		p.downloads.Len() == 0 &&
		(len(p.history) > 0 || len(p.fullSet) > 0)
	p.mu.Unlock()

	p.Refill()

	p.mu.Lock()
	defer p.mu.Unlock()
	res := FinishResult{Restarting: restarting}
	switch {
	case len(p.active) > 0:
		n := p.active[0]
		res.Next = &n
	case restarting && len(p.history) > 0:
		n := p.history[0]
		res.Next = &n
	}
	return res, true
}

// Abandon drops the current track after a playback failure, in every mode.
func (p *Playlist) Abandon(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || gen != p.generation {
		return false
	}
	p.retireLocked()
	return true
}

// MarkNotified returns true exactly once per selected track instance.
func (p *Playlist) MarkNotified(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || gen != p.generation || p.notified {
		return false
	}
	p.notified = true
	return true
}

// Generation increments on every selection, skip and single-loop replay.
func (p *Playlist) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Mode returns the current play mode.
func (p *Playlist) Mode() model.PlayMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode switches the play mode.
func (p *Playlist) SetMode(mode model.PlayMode) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}

	p.mu.Lock()
	if mode == p.mode {
		p.mu.Unlock()
		return nil
	}
	p.mode = mode
	if mode != model.ListLoop {
		p.history = nil
	}
	if mode == model.Random && len(p.active) > 1 {
		p.shuffleLocked(p.active)
	}
	if shuffled(p.lookaheadMode) != shuffled(mode) && len(p.fullSet) > 0 {
		p.rebuildLookaheadLocked()
	}
	p.lookaheadMode = mode
	p.mu.Unlock()

	p.Refill()
	return nil
}

// BufferTarget returns the desired number of ready tracks.
func (p *Playlist) BufferTarget() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferTarget
}

// SetBufferTarget changes the desired number of ready tracks and refills.
func (p *Playlist) SetBufferTarget(n int) error {
	if n < 1 {
		return ErrInvalidBufferTarget
	}
	p.mu.Lock()
	p.bufferTarget = n
	p.mu.Unlock()

	p.Refill()
	return nil
}

// RemoveAt removes the n-th ready track, counting from 1.
func (p *Playlist) RemoveAt(index int) (model.Track, error) {
	p.mu.Lock()
	if index < 1 || index > len(p.active) {
		p.mu.Unlock()
		return model.Track{}, ErrIndexOutOfRange
	}
	t := p.active[index-1]
	p.active = slices.Delete(p.active, index-1, index)
	p.mu.Unlock()

	p.Refill()
	return t, nil
}

// Clear empties active and returns how many tracks were removed.
// Lookahead is dropped as well when an imported playlist is loaded.
func (p *Playlist) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.active)
	p.active = nil
	if len(p.fullSet) > 0 {
		p.lookahead = nil
	}
	return n
}

// Reset drops every track and pending download. Used when a session ends.
func (p *Playlist) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
	p.lookahead = nil
	p.fullSet = nil
	p.history = nil
	p.current = nil
	p.startedAt = time.Time{}
	p.notified = false
	p.generation++
	p.downloads.Clear()
}

// HasPending reports whether more tracks may still become selectable.
func (p *Playlist) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lookahead) > 0 || p.refilling > 0 || p.downloads.Len() > 0
}

// NeedsDownload reports whether active is below the buffer target.
func (p *Playlist) NeedsDownload() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) < p.bufferTarget
}

// Snapshot copies the playlist state.
func (p *Playlist) Snapshot() Snapshot {
	pending := p.downloads.Items()

	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Active:       slices.Clone(p.active),
		Lookahead:    len(p.lookahead),
		History:      len(p.history),
		FullSet:      len(p.fullSet),
		Pending:      pending,
		InFlight:     p.downloads.Len() - len(pending),
		Mode:         p.mode,
		BufferTarget: p.bufferTarget,
		Generation:   p.generation,
	}
	if s.Active == nil {
		s.Active = []model.Track{}
	}
	if s.InFlight < 0 {
		s.InFlight = 0
	}
	if p.current != nil {
		t := *p.current
		s.Current = &t
		s.StartedAt = p.startedAt
		s.Position = p.positionLocked()
	}
	return s
}

func (p *Playlist) positionLocked() float64 {
	if p.startedAt.IsZero() {
		return 0
	}
	pos := p.now().Sub(p.startedAt).Seconds()
	if pos < 0 {
		return 0
	}
	if d := p.current.DurationSeconds; d > 0 && pos > d {
		return d
	}
	return pos
}

// takeBatchLocked pops the lookahead entries needed to reach the buffer target.
// Requests already downloading count toward the target.
func (p *Playlist) takeBatchLocked() []model.Track {
	if len(p.lookahead) == 0 {
		return nil
	}
	need := p.bufferTarget - len(p.active) - p.downloads.Len()
	if len(p.active) == 0 && need < 1 {
		need = 1
	}
	if need <= 0 {
		return nil
	}
	n := min(need, len(p.lookahead))
	batch := slices.Clone(p.lookahead[:n])
	p.lookahead = slices.Clone(p.lookahead[n:])
	return batch
}

// resolve fills LocalPath from the locator. Runs without the lock.
func (p *Playlist) resolve(t *model.Track) bool {
	if t.Cached() {
		return true
	}
	if p.locator == nil {
		return false
	}
	if path, ok := p.locator.Exists(t.ID); ok {
		t.LocalPath = path
		return true
	}
	return false
}

func (p *Playlist) popLocked() model.Track {
	if p.mode == model.Random && p.lastPlayed != "" {
		for i := 0; i < maxReshuffle && len(p.active) > 1 && p.active[0].ID == p.lastPlayed; i++ {
			p.shuffleLocked(p.active)
		}
	}
	t := p.active[0]
	p.active = slices.Delete(p.active, 0, 1)
	p.current = &t
	p.generation++
	p.notified = false
	p.startedAt = p.now()
	return t
}

func (p *Playlist) retireLocked() {
	if p.current == nil {
		return
	}
	if p.mode == model.ListLoop {
		p.history = append(p.history, *p.current)
	}
	p.lastPlayed = p.current.ID
	p.current = nil
	p.startedAt = time.Time{}
	p.notified = false
}

func (p *Playlist) rebuildLookaheadLocked() {
	p.lookahead = slices.Clone(p.fullSet)
	if p.mode == model.Random {
		p.shuffleLocked(p.lookahead)
	}
	p.lookaheadMode = p.mode
}

func (p *Playlist) shuffleLocked(tracks []model.Track) {
	p.rng.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
}

func (p *Playlist) signal() {
	select {
	case p.updated <- struct{}{}:
	default:
	}
}

// containsLocked checks current and active.
func (p *Playlist) containsLocked(id string) bool {
	if p.current != nil && p.current.ID == id {
		return true
	}
	return lo.ContainsBy(p.active, func(t model.Track) bool { return t.ID == id })
}

// knownLocked additionally checks lookahead and the download queue.
func (p *Playlist) knownLocked(id string) bool {
	if p.containsLocked(id) || p.downloads.Contains(id) {
		return true
	}
	return lo.ContainsBy(p.lookahead, func(t model.Track) bool { return t.ID == id })
}

func (p *Playlist) isKnown(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.knownLocked(id)
}

func shuffled(m model.PlayMode) bool {
	return m == model.Random
}
