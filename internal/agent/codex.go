package agent

import "github.com/DigitumDei/Actuarius/internal/runner"

func NewCodex(r runner.Runner, binary string) *CLIAgent {
	if binary == "" {
		binary = "codex"
	}
	return &CLIAgent{name: Codex, binary: binary, runner: r, args: codexArgs, extract: trimmedOutput}
}

func codexArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--approval-mode", "full-auto"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return args
}
