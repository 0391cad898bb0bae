package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/metrics"
)

const (
	DefaultMaxOutput = 4 * 1024 * 1024
	DefaultKillGrace = 5 * time.Second
)

type Command struct {
	Name           string
	Args           []string
	Env            map[string]string
	Dir            string
	Timeout        time.Duration
	TranscriptPath string
}

type Output struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands as child processes with stdin detached. A
// timed-out child is sent SIGTERM and killed once KillGrace elapses.
type ExecRunner struct {
	Metrics   *metrics.Metrics
	MaxOutput int
	KillGrace time.Duration
}

func New(m *metrics.Metrics) *ExecRunner {
	return &ExecRunner{Metrics: m, MaxOutput: DefaultMaxOutput, KillGrace: DefaultKillGrace}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	if cmd.Name == "" {
		return Output{}, fmt.Errorf("command name required")
	}
	if cmd.Dir != "" {
		if info, err := os.Stat(cmd.Dir); err != nil || !info.IsDir() {
			return Output{}, &Error{Kind: KindFailed, Name: cmd.Name, ExitCode: -1, Err: fmt.Errorf("working directory %s unavailable", cmd.Dir)}
		}
	}

	runCtx, cancel := applyTimeout(ctx, cmd.Timeout)
	defer cancel()

	execCmd := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Stdin = nil
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), envSlice(cmd.Env)...)
	}
	configureProcess(execCmd)
	execCmd.WaitDelay = r.killGrace()

	stdout := &cappedBuffer{limit: r.maxOutput()}
	stderr := &cappedBuffer{limit: r.maxOutput()}
	var outW io.Writer = stdout
	var errW io.Writer = stderr
	if cmd.TranscriptPath != "" {
		transcript, err := os.Create(cmd.TranscriptPath)
		if err != nil {
			return Output{}, fmt.Errorf("create transcript: %w", err)
		}
		defer transcript.Close()
		outW = io.MultiWriter(stdout, transcript)
		errW = io.MultiWriter(stderr, transcript)
	}
	execCmd.Stdout = outW
	execCmd.Stderr = errW

	start := time.Now()
	err := execCmd.Run()
	if runCtx.Err() != nil {
		killProcessGroup(execCmd)
	}
	finished := time.Now()

	out := Output{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode(err),
		StartedAt:  start,
		FinishedAt: finished,
		Duration:   finished.Sub(start),
	}
	if stdout.truncated || stderr.truncated {
		clog.FromContext(ctx).With("name", cmd.Name).Warnf("process output truncated at %d bytes", r.maxOutput())
	}

	if err == nil {
		r.Metrics.ObserveProcess(cmd.Name, "ok", out.Duration)
		return out, nil
	}

	rerr := &Error{
		Kind:     KindFailed,
		Name:     cmd.Name,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Timeout:  cmd.Timeout,
		Err:      err,
	}
	switch {
	case notFound(err):
		rerr.Kind = KindUnavailable
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		rerr.Kind = KindTimedOut
	case ctx.Err() != nil:
		rerr.Err = ctx.Err()
	}
	r.Metrics.ObserveProcess(cmd.Name, rerr.Kind.String(), out.Duration)
	clog.FromContext(ctx).With("name", cmd.Name, "kind", rerr.Kind.String(), "exit_code", rerr.ExitCode).
		Debugf("process finished in %s", out.Duration)
	return out, rerr
}

func (r *ExecRunner) maxOutput() int {
	if r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

func (r *ExecRunner) killGrace() time.Duration {
	if r.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return r.KillGrace
}

func applyTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func notFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	return errors.Is(err, os.ErrNotExist)
}

type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	switch {
	case room <= 0:
		b.truncated = b.truncated || len(p) > 0
	case len(p) > room:
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
	default:
		b.buf = append(b.buf, p...)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
