package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"VoiceFM/logger"
)

// Watcher signals subscribers when a new audio file lands in a directory.
// Signals are coalesced: a subscriber sees at most one pending wake-up.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int

	closeOnce sync.Once
}

// NewWatcher starts watching dir. Run delivers the events.
func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("监听目录 %s 失败: %w", dir, err)
	}
	return &Watcher{dir: dir, watcher: fw, subs: make(map[int]chan struct{})}, nil
}

// Subscribe returns a wake channel and a func that releases it.
func (w *Watcher) Subscribe() (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	ch := make(chan struct{}, 1)
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Run forwards fsnotify events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	logger.Info("[Watcher] 开始监听曲库目录", logger.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			logger.Debug("[Watcher] 检测到新文件", logger.String("file", ev.Name), logger.String("op", ev.Op.String()))
			w.broadcast()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("[Watcher] 文件监听出错", logger.ErrorField(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.watcher.Close() })
	return err
}

func (w *Watcher) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// relevant keeps creations and renames of finished audio files; temp files start with a dot.
func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(ev.Name)
	return IsAudioFile(base) && !strings.HasPrefix(base, ".")
}
