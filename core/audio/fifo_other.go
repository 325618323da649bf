//go:build !unix

package audio

import (
	"context"
	"io"
)

// FIFOConduit is unavailable on this platform; use a MemoryConduit or a network input.
type FIFOConduit struct{}

func NewFIFOConduit(dir, channel string) (*FIFOConduit, error) {
	return nil, ErrFIFOUnsupported
}

func (c *FIFOConduit) Path() string { return "" }

func (c *FIFOConduit) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return nil, ErrFIFOUnsupported
}

func (c *FIFOConduit) Close() error { return nil }
