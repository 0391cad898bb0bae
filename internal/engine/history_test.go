package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/git"
)

func TestComposePrompt(t *testing.T) {
	tests := []struct {
		name  string
		turns []core.Turn
		want  string
	}{{
		name: "no history",
		want: "next",
	}, {
		name:  "skips blank responses",
		turns: []core.Turn{{Prompt: "first", Response: "  "}, {Prompt: "second", Response: "done"}},
		want: historyHeader + "\n\n" +
			"[User]: first\n\n" +
			"[User]: second\n\n" +
			"[Assistant]: done\n\n" +
			"[User]: next",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposePrompt(tt.turns, "next"))
		})
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "Unknown execution error."},
		{"agent", fmt.Errorf("wrapped: %w", &agent.Error{Message: "Codex CLI is not installed or not available in PATH."}), "Codex CLI is not installed or not available in PATH."},
		{"worktree", &git.WorktreeError{Message: "could not create worktree", Err: errors.New("exit code 128")}, "Worktree operation failed: could not create worktree: exit code 128"},
		{"workspace", &git.WorkspaceError{Message: "could not clone acme/widgets"}, "Repository sync failed: could not clone acme/widgets"},
		{"other", errors.New("disk full"), "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeError(tt.err))
		})
	}
}
