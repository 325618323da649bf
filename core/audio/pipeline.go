package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"VoiceFM/logger"
	"VoiceFM/model"
)

var (
	ErrRunnerClosed = errors.New("audio: runner closed")
	ErrNoLocalFile  = errors.New("audio: track has no local file")
	// ErrTransportExited means the transport died before it attached to the conduit.
	ErrTransportExited = errors.New("audio: transport exited")
)

// PipelineSession is one decoder streaming one track into the shared transport.
type PipelineSession struct {
	ID        string
	Track     model.Track
	Decode    Process
	Transport Process
	Conduit   Conduit
	StartedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	err   error
	bytes int64
}

// Done is closed when pumping has ended, by EOF, error or interruption.
func (s *PipelineSession) Done() <-chan struct{} { return s.done }

// Err reports a decode or write failure. Interruption is not an error.
func (s *PipelineSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bytes is how much PCM has been written to the conduit so far.
func (s *PipelineSession) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *PipelineSession) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Settings Settings
	Launcher Launcher
	Conduit  Conduit
	// Target is the RTP url the transport sends to. It is fixed for the runner's lifetime.
	Target  string
	Channel string
}

// Runner owns the long-lived transport process and starts one decoder per track.
type Runner struct {
	settings Settings
	launcher Launcher
	conduit  Conduit
	target   string
	channel  string

	// openMu serializes Open; mu only guards the fields below
	openMu    sync.Mutex
	mu        sync.Mutex
	transport Process
	writer    io.WriteCloser
	closed    bool
}

// NewRunner creates a runner. Open must succeed before the first Start.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Settings.ChunkSize <= 0 {
		opts.Settings.ChunkSize = DefaultSettings().ChunkSize
	}
	if opts.Settings.StopGrace <= 0 {
		opts.Settings.StopGrace = DefaultSettings().StopGrace
	}
	return &Runner{
		settings: opts.Settings,
		launcher: opts.Launcher,
		conduit:  opts.Conduit,
		target:   opts.Target,
		channel:  opts.Channel,
	}
}

// Target returns the RTP destination.
func (r *Runner) Target() string { return r.target }

// Alive reports whether the transport process is running.
func (r *Runner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport != nil && !exited(r.transport)
}

// Open launches the transport and opens the conduit writer.
// A transport that died since the last call is relaunched.
func (r *Runner) Open(ctx context.Context) error {
	r.openMu.Lock()
	defer r.openMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	if r.transport != nil && !exited(r.transport) && r.writer != nil {
		r.mu.Unlock()
		return nil
	}
	stale, staleW := r.transport, r.writer
	r.transport, r.writer = nil, nil
	r.mu.Unlock()

	if stale != nil {
		logger.Warn("[Runner] 推流进程已退出，重新启动",
			logger.String("channel", r.channel),
			logger.ErrorField(stale.Err()))
		stopProcess(stale, r.settings.StopGrace)
	}
	if staleW != nil {
		if err := staleW.Close(); err != nil {
			logger.Debug("[Runner] close stale writer", logger.ErrorField(err))
		}
	}

	args := r.settings.TransportArgs(r.conduit.Path(), r.target)
	proc, err := r.launcher.Launch(ctx, r.settings.FFmpegPath, args)
	if err != nil {
		return fmt.Errorf("launch transport: %w", err)
	}
	go drain(proc.Output())

	w, err := r.openWriter(ctx, proc)
	if err != nil {
		stopProcess(proc, r.settings.StopGrace)
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		stopProcess(proc, r.settings.StopGrace)
		w.Close()
		return ErrRunnerClosed
	}
	r.transport = proc
	r.writer = w
	r.mu.Unlock()

	logger.Info("[Runner] 推流进程已启动",
		logger.String("channel", r.channel),
		logger.Int("pid", proc.Pid()),
		logger.String("target", r.target))
	return nil
}

// openWriter waits for the transport to attach to the conduit. It gives up
// when ctx is done or the transport exits first.
func (r *Runner) openWriter(ctx context.Context, proc Process) (io.WriteCloser, error) {
	octx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-octx.Done():
		}
	}()

	w, err := r.conduit.OpenWriter(octx)
	if err == nil {
		return w, nil
	}
	if ctx.Err() == nil && exited(proc) {
		if perr := proc.Err(); perr != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransportExited, perr)
		}
		return nil, ErrTransportExited
	}
	return nil, fmt.Errorf("open conduit writer: %w", err)
}

// Start spawns a decoder for track and begins pumping it into the conduit.
func (r *Runner) Start(ctx context.Context, track model.Track, volume float64) (*PipelineSession, error) {
	if !track.Cached() {
		return nil, ErrNoLocalFile
	}
	if err := r.Open(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	w, transport := r.writer, r.transport
	r.mu.Unlock()
	if w == nil {
		return nil, ErrRunnerClosed
	}

	proc, err := r.launcher.Launch(ctx, r.settings.FFmpegPath, r.settings.DecodeArgs(track.LocalPath, volume))
	if err != nil {
		return nil, fmt.Errorf("launch decoder: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	s := &PipelineSession{
		ID:        uuid.NewString(),
		Track:     track,
		Decode:    proc,
		Transport: transport,
		Conduit:   r.conduit,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go r.pump(pctx, s, w)

	logger.Debug("[Runner] decoder started",
		logger.String("channel", r.channel),
		logger.String("session", s.ID),
		logger.String("track", track.ID),
		logger.Int("pid", proc.Pid()),
		logger.Float64("volume", volume))
	return s, nil
}

func (r *Runner) pump(ctx context.Context, s *PipelineSession, w io.Writer) {
	defer close(s.done)

	out := s.Decode.Output()
	buf := make([]byte, r.settings.ChunkSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := out.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				if ctx.Err() == nil {
					s.fail(fmt.Errorf("write conduit: %w", werr))
				}
				return
			}
			s.mu.Lock()
			s.bytes += int64(n)
			s.mu.Unlock()
		}
		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("read decoder: %w", err))
			}
			return
		}
		if r.settings.ChunkYield > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.settings.ChunkYield):
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	// end of stream; the exit status decides whether this was a clean finish
	select {
	case <-s.Decode.Done():
		if err := s.Decode.Err(); err != nil {
			s.fail(fmt.Errorf("decoder exited: %w", err))
		}
	case <-ctx.Done():
	}
}

// Stop interrupts s and reaps its decoder. It is safe to call more than once.
func (r *Runner) Stop(s *PipelineSession) {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.cancel()
		stopProcess(s.Decode, r.settings.StopGrace)
		if err := s.Decode.Output().Close(); err != nil {
			logger.Debug("[Runner] close decoder output", logger.ErrorField(err))
		}
		<-s.done
		logger.Debug("[Runner] decoder stopped",
			logger.String("channel", r.channel),
			logger.String("session", s.ID),
			logger.Int64("bytes", s.Bytes()))
	})
}

// Close stops the transport, closes the writer and releases the conduit.
// Failures are logged.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transport, w := r.transport, r.writer
	r.transport, r.writer = nil, nil
	r.mu.Unlock()

	if transport != nil {
		stopProcess(transport, r.settings.StopGrace)
	}
	if w != nil {
		if err := w.Close(); err != nil {
			logger.Warn("[Runner] close conduit writer", logger.String("channel", r.channel), logger.ErrorField(err))
		}
	}
	if r.conduit != nil {
		if err := r.conduit.Close(); err != nil {
			logger.Warn("[Runner] release conduit", logger.String("channel", r.channel), logger.ErrorField(err))
		}
	}
	logger.Info("[Runner] 推流已关闭", logger.String("channel", r.channel))
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
