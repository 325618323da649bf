package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"VoiceFM/logger"
)

// Process is a running external program whose stdout is readable through Output.
type Process interface {
	Pid() int
	// Output is the read end of the process stdout. The caller closes it once drained.
	Output() io.ReadCloser
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed after the process has been reaped.
	Done() <-chan struct{}
	// Err is the exit error, valid once Done is closed.
	Err() error
}

// Launcher starts external programs.
type Launcher interface {
	Launch(ctx context.Context, name string, args []string) (Process, error)
}

const defaultStderrTail = 4096

// ExecLauncher starts programs with os/exec.
// Stdout is an os.Pipe owned by the caller, so reaping the child never cuts a reader short.
type ExecLauncher struct {
	// StderrTail bounds how much trailing stderr is kept for error messages.
	StderrTail int
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, name string, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	size := l.StderrTail
	if size <= 0 {
		size = defaultStderrTail
	}
	tail := &tailBuffer{max: size}

	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	// the child holds its own copy of the write end
	w.Close()

	p := &execProcess{
		cmd:    cmd,
		stdout: r,
		stderr: tail,
		done:   make(chan struct{}),
	}
	go p.wait()

	logger.Debug("[Process] started",
		logger.String("name", name),
		logger.Int("pid", cmd.Process.Pid),
		logger.String("args", strings.Join(args, " ")))
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *tailBuffer

	done chan struct{}
	err  error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if err != nil {
		if tail := p.stderr.String(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
	}
	p.err = err
	close(p.done)
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Output() io.ReadCloser { return p.stdout }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signal(os.Kill)
}

func (p *execProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal pid %d: %w", p.Pid(), err)
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// stopProcess terminates p, escalating to Kill after grace, and waits for it to be reaped.
func stopProcess(p Process, grace time.Duration) {
	select {
	case <-p.Done():
		return
	default:
	}

	if err := p.Terminate(); err != nil {
		logger.Warn("[Process] terminate failed", logger.Int("pid", p.Pid()), logger.ErrorField(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.Done():
		return
	case <-timer.C:
	}

	logger.Warn("[Process] 宽限期内未退出，强制结束", logger.Int("pid", p.Pid()), logger.Duration("grace", grace))
	if err := p.Kill(); err != nil {
		logger.Error("[Process] kill failed", logger.Int("pid", p.Pid()), logger.ErrorField(err))
	}
	<-p.Done()
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
