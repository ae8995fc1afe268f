// Package sysexec runs the external tools monitorgen depends on.
package sysexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const waitDelay = 5 * time.Second

// ErrCommand matches every *CommandError.
var ErrCommand = errors.New("external command failed")

// CommandError reports a command that could not be started or exited
// unsuccessfully. Output holds the combined stdout and stderr.
type CommandError struct {
	Description string
	Args        []string
	ExitCode    int // -1 when the process never ran to completion.
	Output      string
	Err         error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Description, strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *CommandError) Is(err error) bool { return err == ErrCommand }

func (e *CommandError) Unwrap() error { return e.Err }

// Result is the captured output of a successful command.
type Result struct {
	Stdout string
	Stderr string
}

// Executor runs external commands to completion.
type Executor interface {
	// Execute runs name with args, bounded by the executor's timeout.
	Execute(ctx context.Context, description, name string, args ...string) (Result, error)
	// ExecuteWithoutTimeout runs name with args until it exits or ctx is
	// cancelled.
	ExecuteWithoutTimeout(ctx context.Context, description, name string, args ...string) (Result, error)
}

// System runs commands on the host.
type System struct {
	Timeout time.Duration // Zero disables the timeout of Execute.
	Logger  *slog.Logger
}

var _ Executor = (*System)(nil)

// Execute implements Executor.
func (s *System) Execute(ctx context.Context, description, name string, args ...string) (Result, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.run(ctx, description, name, args)
}

// ExecuteWithoutTimeout implements Executor.
func (s *System) ExecuteWithoutTimeout(ctx context.Context, description, name string, args ...string) (Result, error) {
	return s.run(ctx, description, name, args)
}

func (s *System) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *System) run(ctx context.Context, description, name string, args []string) (Result, error) {
	log := s.logger().With("cmd", name)
	all := append([]string{name}, args...)
	log.Info(description, "args", args)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	// Orphaned grandchildren may hold the pipes open after a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &CommandError{Description: description, Args: all, ExitCode: -1, Err: err}
	}

	var (
		mu       sync.Mutex
		combined bytes.Buffer
		out, eo  bytes.Buffer
	)
	var g errgroup.Group
	g.Go(func() error { return drain(outR, &out, &combined, &mu, log, "stdout") })
	g.Go(func() error { return drain(errR, &eo, &combined, &mu, log, "stderr") })
	waitErr := cmd.Wait()
	_ = outW.Close()
	_ = errW.Close()
	readErr := g.Wait()

	res := Result{Stdout: out.String(), Stderr: eo.String()}
	if waitErr == nil && readErr != nil {
		waitErr = readErr
	}
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			waitErr = fmt.Errorf("%w (%v)", ctxErr, waitErr)
		}
		return res, &CommandError{
			Description: description,
			Args:        all,
			ExitCode:    code,
			Output:      combined.String(),
			Err:         waitErr,
		}
	}
	log.Debug("command finished", "elapsed", time.Since(start))
	return res, nil
}

// drain copies r line by line into own and combined, logging each line.
// Lines of any length are kept whole.
func drain(r io.Reader, own, combined *bytes.Buffer, mu *sync.Mutex, log *slog.Logger, stream string) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			own.WriteString(line)
			mu.Lock()
			combined.WriteString(line)
			mu.Unlock()
			log.Debug(strings.TrimRight(line, "\r\n"), "stream", stream)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Keep the child from blocking on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
}
