package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSignalsNewAudio(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	wake, release := w.Subscribe()
	defer release()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	select {
	case <-wake:
		t.Fatal("non-audio file should not wake subscribers")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.mp3"), []byte("x"), 0o644))
	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a wake-up for a new mp3")
	}
}

func TestWatcherReleaseStopsDelivery(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	wake, release := w.Subscribe()
	release()
	release()
	w.broadcast()

	select {
	case <-wake:
		t.Fatal("released subscriber received a signal")
	default:
	}
}

func TestWatcherCoalesces(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	wake, release := w.Subscribe()
	defer release()
	w.broadcast()
	w.broadcast()
	w.broadcast()

	<-wake
	select {
	case <-wake:
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestWatcherMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create mp3", fsnotify.Event{Name: "/lib/1.mp3", Op: fsnotify.Create}, true},
		{"rename mp3", fsnotify.Event{Name: "/lib/1.mp3", Op: fsnotify.Rename}, true},
		{"write mp3", fsnotify.Event{Name: "/lib/1.MP3", Op: fsnotify.Write}, true},
		{"remove mp3", fsnotify.Event{Name: "/lib/1.mp3", Op: fsnotify.Remove}, false},
		{"temp file", fsnotify.Event{Name: "/lib/.1.mp3.123.part", Op: fsnotify.Create}, false},
		{"hidden mp3", fsnotify.Event{Name: "/lib/.1.mp3", Op: fsnotify.Create}, false},
		{"text file", fsnotify.Event{Name: "/lib/a.txt", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.ev))
		})
	}
}
