package audio

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrFIFOUnsupported is returned where named pipes are not available.
var ErrFIFOUnsupported = errors.New("audio: named pipes are not supported on this platform")

// Conduit carries raw PCM from the per-track decoder to the long-lived transport.
type Conduit interface {
	// Path is the input the transport reads from.
	Path() string
	// OpenWriter returns the write side. It may block until the transport attaches.
	OpenWriter(ctx context.Context) (io.WriteCloser, error)
	// Close releases the conduit.
	Close() error
}

// MemoryConduit is an in-process conduit backed by io.Pipe.
type MemoryConduit struct {
	path string
	r    *io.PipeReader
	w    *io.PipeWriter
}

// NewMemoryConduit creates a conduit whose transport side is Reader.
func NewMemoryConduit(path string) *MemoryConduit {
	r, w := io.Pipe()
	return &MemoryConduit{path: path, r: r, w: w}
}

func (c *MemoryConduit) Path() string { return c.path }

// OpenWriter hands out the pipe writer. Closing the returned writer is a no-op;
// the pipe itself ends with Close.
func (c *MemoryConduit) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nopCloser{c.w}, nil
}

// Reader is what a transport would consume.
func (c *MemoryConduit) Reader() io.Reader { return c.r }

func (c *MemoryConduit) Close() error {
	c.w.Close()
	return c.r.Close()
}

// fifoName builds the pipe file name for a channel.
func fifoName(channel string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, channel)
	if safe == "" {
		safe = "default"
	}
	return "audio_pipe_" + safe
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
