// Package runner executes provider CLIs, either as plain one-shot commands
// or inside a pseudo-terminal driven by a prompt script.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	// ptyRows and ptyCols give scripted CLIs a stable screen so usage bars
	// and percent columns render on one line.
	ptyRows = 40
	ptyCols = 120

	// exitGrace is how long a CLI gets to quit after its exit keystrokes.
	exitGrace = 2 * time.Second
	// drainGrace bounds the wait for trailing PTY output after process exit.
	drainGrace = 500 * time.Millisecond

	readBufSize = 2048
)

// Runner implements quotawatch.ProcessRunner on top of os/exec, allocating a
// pseudo-terminal when the command carries an interactive script.
type Runner struct {
	logger quotawatch.Logger
}

// New creates a Runner.
func New(logger quotawatch.Logger) *Runner {
	if logger == nil {
		logger = &quotawatch.NoopLogger{}
	}
	return &Runner{logger: logger}
}

// Run executes the command and captures its combined output. A non-zero exit
// status reports the code, not an error.
func (r *Runner) Run(ctx context.Context, cmd quotawatch.Command) ([]byte, int, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	r.logger.Debug("running command",
		quotawatch.Field{Key: "binary", Value: cmd.Binary},
		quotawatch.Field{Key: "interactive", Value: cmd.Script.Interactive()})

	if cmd.Script.Interactive() {
		return r.runInteractive(ctx, cmd)
	}
	return r.runPlain(ctx, cmd)
}

func (r *Runner) runPlain(ctx context.Context, cmd quotawatch.Command) ([]byte, int, error) {
	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	out, err := c.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, 0, quotawatch.ErrTimeout
	case errors.As(err, &exitErr):
		return out, exitErr.ExitCode(), nil
	case errors.Is(err, exec.ErrNotFound):
		return nil, 0, quotawatch.ErrBinaryNotFound
	default:
		return out, 0, quotawatch.ExecutionFailed("%s: %v", cmd.Binary, err)
	}
}

// runInteractive drives the process inside a PTY. The expect machine answers
// prompts as they appear; once the awaited output has been seen the exit
// keystrokes are sent and the process gets a grace period to quit on its own.
func (r *Runner) runInteractive(ctx context.Context, cmd quotawatch.Command) ([]byte, int, error) {
	c := exec.Command(cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(c)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, 0, quotawatch.ErrBinaryNotFound
		}
		return nil, 0, quotawatch.ExecutionFailed("start %s: %v", cmd.Binary, err)
	}
	defer func() { _ = ptmx.Close() }()
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})

	if cmd.Stdin != "" {
		_, _ = ptmx.Write([]byte(cmd.Stdin))
	}

	machine := NewMachine(cmd.Script)

	var mu sync.Mutex
	var buf bytes.Buffer
	output := func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return append([]byte(nil), buf.Bytes()...)
	}

	complete := make(chan struct{})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		completed := false
		tmp := make([]byte, readBufSize)
		for {
			n, readErr := ptmx.Read(tmp)
			if n > 0 {
				mu.Lock()
				buf.Write(tmp[:n])
				mu.Unlock()
				for _, send := range machine.Feed(tmp[:n]) {
					_, _ = ptmx.Write([]byte(send))
				}
				if !completed && machine.Complete() {
					completed = true
					close(complete)
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- c.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		_ = c.Process.Kill()
		<-waitCh
		r.drain(readDone)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output(), 0, quotawatch.ErrTimeout
		}
		return output(), 0, quotawatch.ExecutionFailed("%s: %v", cmd.Binary, ctx.Err())
	case <-complete:
		if cmd.Script.Exit != "" {
			_, _ = ptmx.Write([]byte(cmd.Script.Exit))
		}
		select {
		case waitErr = <-waitCh:
		case <-time.After(exitGrace):
			_ = c.Process.Kill()
			waitErr = <-waitCh
		case <-ctx.Done():
			_ = c.Process.Kill()
			waitErr = <-waitCh
		}
	case waitErr = <-waitCh:
	}
	r.drain(readDone)

	code := 0
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	} else if waitErr != nil {
		return output(), 0, quotawatch.ExecutionFailed("%s: %v", cmd.Binary, waitErr)
	}
	return output(), code, nil
}

// drain lets the reader collect buffered PTY output after process exit.
func (r *Runner) drain(readDone <-chan struct{}) {
	select {
	case <-readDone:
	case <-time.After(drainGrace):
	}
}
