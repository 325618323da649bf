//go:build unix

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"VoiceFM/logger"
)

// FIFOConduit is a named pipe on disk that ffmpeg reads as its input file.
type FIFOConduit struct {
	path string
}

// NewFIFOConduit creates <dir>/audio_pipe_<channel>, replacing any stale file.
func NewFIFOConduit(dir, channel string) (*FIFOConduit, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create fifo dir: %w", err)
	}
	path := filepath.Join(dir, fifoName(channel))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale fifo %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, 0666); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	logger.Debug("[FIFO] created", logger.String("path", path))
	return &FIFOConduit{path: path}, nil
}

func (c *FIFOConduit) Path() string { return c.path }

// OpenWriter blocks until a reader opens the pipe or ctx is done.
func (c *FIFOConduit) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(c.path, os.O_WRONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open fifo writer: %w", r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		// attach a throwaway reader so the pending open returns
		if rd, err := os.OpenFile(c.path, os.O_RDONLY|unix.O_NONBLOCK, 0); err == nil {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
			rd.Close()
		}
		return nil, ctx.Err()
	}
}

// Close removes the pipe file.
func (c *FIFOConduit) Close() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove fifo %s: %w", c.path, err)
	}
	return nil
}
