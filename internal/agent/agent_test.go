package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitumDei/Actuarius/internal/runner"
)

type stubRunner struct {
	out  runner.Output
	err  error
	last runner.Command
}

func (s *stubRunner) Run(_ context.Context, cmd runner.Command) (runner.Output, error) {
	s.last = cmd
	return s.out, s.err
}

func TestAgentArguments(t *testing.T) {
	tests := []struct {
		agent *CLIAgent
		req   Request
		want  []string
	}{{
		agent: NewClaude(nil, ""),
		req:   Request{Prompt: "fix it"},
		want:  []string{"claude", "-p", "fix it", "--output-format", "json", "--permission-mode", "bypassPermissions"},
	}, {
		agent: NewClaude(nil, "/opt/claude"),
		req:   Request{Prompt: "fix it", Model: "opus"},
		want:  []string{"/opt/claude", "-p", "fix it", "--output-format", "json", "--permission-mode", "bypassPermissions", "--model", "opus"},
	}, {
		agent: NewCodex(nil, ""),
		req:   Request{Prompt: "p", Model: "o3"},
		want:  []string{"codex", "-p", "p", "--approval-mode", "full-auto", "--model", "o3"},
	}, {
		agent: NewGemini(nil, ""),
		req:   Request{Prompt: "p"},
		want:  []string{"gemini", "-p", "p"},
	}}
	for _, tt := range tests {
		t.Run(tt.agent.Name(), func(t *testing.T) {
			stub := &stubRunner{out: runner.Output{Stdout: `{"result":"ok"}`}}
			tt.agent.runner = stub
			tt.req.Dir = "/work"
			tt.req.Timeout = time.Minute

			_, err := tt.agent.Run(context.Background(), tt.req)
			require.NoError(t, err)

			got := append([]string{stub.last.Name}, stub.last.Args...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, "/work", stub.last.Dir)
			assert.Equal(t, time.Minute, stub.last.Timeout)
		})
	}
}

func TestAgentResultExtraction(t *testing.T) {
	stub := &stubRunner{out: runner.Output{Stdout: `{"content":[{"text":"a"},{"type":"tool"},{"text":"b"}]}`}}
	res, err := NewClaude(stub, "").Run(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", res.Text)

	// codex and gemini return raw text, JSON included
	stub.out.Stdout = "  {\"result\":\"raw\"}\n"
	res, err = NewCodex(stub, "").Run(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"raw"}`, res.Text)
}

func TestAgentErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		agent   func(runner.Runner) *CLIAgent
		out     runner.Output
		err     error
		code    Code
		message string
	}{{
		name:    "claude unavailable",
		agent:   func(r runner.Runner) *CLIAgent { return NewClaude(r, "") },
		err:     &runner.Error{Kind: runner.KindUnavailable, Name: "claude"},
		code:    "CLAUDE_UNAVAILABLE",
		message: "Claude CLI is not installed or not available in PATH.",
	}, {
		name:    "codex timeout",
		agent:   func(r runner.Runner) *CLIAgent { return NewCodex(r, "") },
		err:     &runner.Error{Kind: runner.KindTimedOut, Name: "codex", Stdout: "partial"},
		code:    CodeTimeout,
		message: "Codex execution timed out after 1500ms.",
	}, {
		name:    "gemini failed",
		agent:   func(r runner.Runner) *CLIAgent { return NewGemini(r, "") },
		err:     &runner.Error{Kind: runner.KindFailed, Name: "gemini", ExitCode: 2, Stderr: "quota exceeded"},
		code:    CodeFailed,
		message: "Gemini execution failed: gemini: exit code 2: quota exceeded",
	}, {
		name:    "claude empty payload",
		agent:   func(r runner.Runner) *CLIAgent { return NewClaude(r, "") },
		out:     runner.Output{Stdout: `{}`},
		code:    CodeEmptyOutput,
		message: "Claude returned empty output.",
	}, {
		name:    "codex blank stdout",
		agent:   func(r runner.Runner) *CLIAgent { return NewCodex(r, "") },
		out:     runner.Output{Stdout: "\n  \n"},
		code:    CodeEmptyOutput,
		message: "Codex returned empty output.",
	}, {
		name:    "plain error",
		agent:   func(r runner.Runner) *CLIAgent { return NewGemini(r, "") },
		err:     errors.New("boom"),
		code:    CodeFailed,
		message: "Gemini execution failed: boom",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubRunner{out: tt.out, err: tt.err}
			_, err := tt.agent(stub).Run(context.Background(), Request{Prompt: "p", Timeout: 1500 * time.Millisecond})
			require.Error(t, err)

			var aerr *Error
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, tt.code, aerr.Code)
			assert.Equal(t, tt.message, aerr.Error())

			code, ok := CodeOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRegistry(t *testing.T) {
	stub := &stubRunner{out: runner.Output{Stdout: "text"}}
	reg := NewRegistry(stub, map[string]Settings{
		Claude: {Enabled: true, Model: "sonnet"},
		Codex:  {Enabled: false},
		Gemini: {Enabled: true, Binary: "/usr/local/bin/gemini"},
	})

	a, model, err := reg.Get(Claude)
	require.NoError(t, err)
	assert.Equal(t, Claude, a.Name())
	assert.Equal(t, "sonnet", model)

	a, _, err = reg.Get(Codex)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{Prompt: "p"})
	code, _ := CodeOf(err)
	assert.Equal(t, Code("CODEX_DISABLED"), code)
	assert.Equal(t, "Codex execution is disabled by configuration.", err.Error())

	_, _, err = reg.Get("copilot")
	assert.Error(t, err)

	assert.Equal(t, []string{"/usr/local/bin/gemini", "claude"}, reg.Binaries())

	reg.Update(map[string]Settings{Codex: {Enabled: true}})
	assert.True(t, reg.Enabled(Codex))
	assert.False(t, reg.Enabled(Claude))
	a, _, err = reg.Get(Codex)
	require.NoError(t, err)
	res, err := a.Run(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "text", res.Text)
}

// TestClaudeWithFakeBinary drives a real process through the runner.
func TestClaudeWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\npwd >> " + argsFile + "\necho '{\"result\":\"patched the bug\"}'\n"
	bin := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	work := t.TempDir()
	res, err := NewClaude(runner.New(nil), bin).Run(context.Background(), Request{
		Prompt:  "fix the bug",
		Dir:     work,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "patched the bug", res.Text)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, []string{"-p", "fix the bug", "--output-format", "json", "--permission-mode", "bypassPermissions"}, lines[:6])
	resolved, err := filepath.EvalSymlinks(work)
	require.NoError(t, err)
	assert.Equal(t, resolved, lines[6])
}

func TestClaudeTimeoutWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho thinking\nsleep 30\n"), 0o755))

	_, err := NewClaude(runner.New(nil), bin).Run(context.Background(), Request{Prompt: "p", Timeout: 200 * time.Millisecond})
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, code)
	assert.Equal(t, "Claude execution timed out after 200ms.", err.Error())

	var rerr *runner.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "thinking\n", rerr.Stdout)
}
