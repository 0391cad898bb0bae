package agent

import "github.com/DigitumDei/Actuarius/internal/runner"

// NewClaude runs the claude CLI in print mode with JSON output and
// permission prompts bypassed, since no one can answer them.
func NewClaude(r runner.Runner, binary string) *CLIAgent {
	if binary == "" {
		binary = "claude"
	}
	return &CLIAgent{name: Claude, binary: binary, runner: r, args: claudeArgs, extract: ExtractText}
}

func claudeArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "json", "--permission-mode", "bypassPermissions"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return args
}
