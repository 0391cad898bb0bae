package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/DigitumDei/Actuarius/internal/runner"
)

// Settings is the operator configuration of one agent variant.
type Settings struct {
	Enabled bool
	Binary  string
	Model   string
}

// Registry resolves agent names to runnable agents. Settings can be
// replaced at run time; agents that are not enabled resolve to a stub
// that fails with the variant's DISABLED code.
type Registry struct {
	runner runner.Runner

	mu       sync.RWMutex
	agents   map[string]Agent
	settings map[string]Settings
}

func NewRegistry(r runner.Runner, settings map[string]Settings) *Registry {
	reg := &Registry{runner: r}
	reg.Update(settings)
	return reg
}

func (r *Registry) Update(settings map[string]Settings) {
	agents := make(map[string]Agent, 3)
	copied := make(map[string]Settings, 3)
	for _, name := range []string{Claude, Codex, Gemini} {
		s := settings[name]
		copied[name] = s
		switch name {
		case Claude:
			agents[name] = NewClaude(r.runner, s.Binary)
		case Codex:
			agents[name] = NewCodex(r.runner, s.Binary)
		case Gemini:
			agents[name] = NewGemini(r.runner, s.Binary)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = agents
	r.settings = copied
}

// Get returns the agent for name and the model to use when the caller
// has none.
func (r *Registry) Get(name string) (Agent, string, error) {
	if !Known(name) {
		return nil, "", fmt.Errorf("unknown agent %q", name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.settings[name]
	if !s.Enabled {
		return disabledAgent{name: name}, "", nil
	}
	return r.agents[name], s.Model, nil
}

func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings[name].Enabled
}

// Binaries lists the executables of enabled agents, sorted.
func (r *Registry) Binaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, s := range r.settings {
		if !s.Enabled {
			continue
		}
		if a, ok := r.agents[name].(*CLIAgent); ok {
			out = append(out, a.Binary())
		}
	}
	sort.Strings(out)
	return out
}
