package agent

import "github.com/DigitumDei/Actuarius/internal/runner"

func NewGemini(r runner.Runner, binary string) *CLIAgent {
	if binary == "" {
		binary = "gemini"
	}
	return &CLIAgent{name: Gemini, binary: binary, runner: r, args: geminiArgs, extract: trimmedOutput}
}

func geminiArgs(req Request) []string {
	args := []string{"-p", req.Prompt}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return args
}
