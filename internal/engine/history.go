package engine

import (
	"errors"
	"strings"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/git"
)

const historyHeader = "This is an ongoing code assistance session. The conversation history is below.\nRespond to the final [User] message."

// ComposePrompt prefixes prompt with earlier turns of the thread. With
// no history the prompt is returned unchanged.
func ComposePrompt(turns []core.Turn, prompt string) string {
	if len(turns) == 0 {
		return prompt
	}
	lines := []string{historyHeader, ""}
	for _, turn := range turns {
		lines = append(lines, "[User]: "+turn.Prompt, "")
		if strings.TrimSpace(turn.Response) != "" {
			lines = append(lines, "[Assistant]: "+turn.Response, "")
		}
	}
	lines = append(lines, "[User]: "+prompt)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DescribeError turns a stage error into a message for the requester.
func DescribeError(err error) string {
	var aerr *agent.Error
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	var wterr *git.WorktreeError
	if errors.As(err, &wterr) {
		return "Worktree operation failed: " + wterr.Error()
	}
	var wserr *git.WorkspaceError
	if errors.As(err, &wserr) {
		return "Repository sync failed: " + wserr.Error()
	}
	if err != nil {
		return err.Error()
	}
	return "Unknown execution error."
}
