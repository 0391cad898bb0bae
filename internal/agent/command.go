package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/runner"
)

// CLIAgent runs a coding agent binary through the process runner. The
// variants differ only in binary, argument shape and result unwrapping.
type CLIAgent struct {
	name    string
	binary  string
	runner  runner.Runner
	args    func(Request) []string
	extract func(string) string
}

func (a *CLIAgent) Name() string {
	return a.name
}

func (a *CLIAgent) Binary() string {
	return a.binary
}

func (a *CLIAgent) Run(ctx context.Context, req Request) (Result, error) {
	log := clog.FromContext(ctx).With("agent", a.name, "dir", req.Dir)
	log.Debugf("starting %s (timeout %s, prompt %d bytes)", a.binary, req.Timeout, len(req.Prompt))

	out, err := a.runner.Run(ctx, runner.Command{
		Name:    a.binary,
		Args:    a.args(req),
		Dir:     req.Dir,
		Timeout: req.Timeout,
	})
	if err != nil {
		return Result{}, a.classify(ctx, req, err)
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		log.Debugf("stderr: %s", clip(stderr, 2000))
	}

	text := a.extract(out.Stdout)
	if text == "" {
		return Result{}, &Error{Agent: a.name, Code: CodeEmptyOutput, Message: Title(a.name) + " returned empty output."}
	}
	log.Debugf("finished in %s with %d bytes of output", out.Duration, len(text))
	return Result{Text: text}, nil
}

func (a *CLIAgent) classify(ctx context.Context, req Request, err error) error {
	title := Title(a.name)
	var rerr *runner.Error
	if !errors.As(err, &rerr) {
		return &Error{Agent: a.name, Code: CodeFailed, Message: fmt.Sprintf("%s execution failed: %v", title, err), Err: err}
	}

	clog.FromContext(ctx).With(
		"agent", a.name,
		"kind", rerr.Kind.String(),
		"exit_code", rerr.ExitCode,
		"stderr", clip(rerr.Stderr, 2000),
		"stdout_partial", clip(rerr.Stdout, 500),
	).Error("agent subprocess failed")

	switch rerr.Kind {
	case runner.KindUnavailable:
		return &Error{Agent: a.name, Code: UnavailableCode(a.name), Message: title + " CLI is not installed or not available in PATH.", Err: err}
	case runner.KindTimedOut:
		return &Error{Agent: a.name, Code: CodeTimeout, Message: fmt.Sprintf("%s execution timed out after %dms.", title, req.Timeout.Milliseconds()), Err: err}
	default:
		return &Error{Agent: a.name, Code: CodeFailed, Message: fmt.Sprintf("%s execution failed: %v", title, rerr), Err: err}
	}
}

type disabledAgent struct {
	name string
}

func (a disabledAgent) Name() string {
	return a.name
}

func (a disabledAgent) Run(context.Context, Request) (Result, error) {
	return Result{}, &Error{Agent: a.name, Code: DisabledCode(a.name), Message: Title(a.name) + " execution is disabled by configuration."}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
