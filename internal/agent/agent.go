package agent

import (
	"context"
	"time"
)

const (
	Claude = "claude"
	Codex  = "codex"
	Gemini = "gemini"
)

// Agent runs one prompt against a working directory and returns the
// agent's textual answer.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

type Request struct {
	Prompt  string
	Dir     string
	Model   string
	Timeout time.Duration
}

type Result struct {
	Text string
}

// Title is the display name used in user-facing messages.
func Title(name string) string {
	switch name {
	case Claude:
		return "Claude"
	case Codex:
		return "Codex"
	case Gemini:
		return "Gemini"
	default:
		return name
	}
}

func Known(name string) bool {
	switch name {
	case Claude, Codex, Gemini:
		return true
	}
	return false
}
