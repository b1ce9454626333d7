package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sacenox/ion/internal/provider"
	"github.com/sacenox/ion/internal/tool"
	"github.com/sacenox/ion/internal/tool/builtin"
	"gopkg.in/yaml.v3"
)

// MaxSubAgentDepth bounds sub-agent recursion to one level: a sub-agent can
// never itself spawn a sub-agent.
const MaxSubAgentDepth = 1

// defaultSubAgentMaxTurns is used when a config omits max_turns.
const defaultSubAgentMaxTurns = 10

// SubAgentConfig is a named sub-agent's definition, loaded from
// ~/.config/ion/agents/subagents/<name>.yaml.
type SubAgentConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Tools        []string `yaml:"tools"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	MaxTurns     int      `yaml:"max_turns"`
}

// LoadSubAgentConfig reads and validates a sub-agent's YAML config from dir.
func LoadSubAgentConfig(dir, name string) (*SubAgentConfig, error) {
	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no sub-agent named %q: %w", name, err)
	}
	var cfg SubAgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sub-agent config %q: %w", name, err)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = name
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultSubAgentMaxTurns
	}
	if cfg.MaxTurns > 20 {
		cfg.MaxTurns = 20
	}
	return &cfg, nil
}

// SubAgentRunnerConfig wires the shared dependencies a spawned sub-agent
// needs: the same provider and working directory as its parent, plus a way
// to build a tool.Orchestrator scoped to the sub-agent's tool whitelist.
type SubAgentRunnerConfig struct {
	ConfigDir         string
	Provider          provider.Provider
	WorkingDir        string
	NoSandbox         bool
	BuildOrchestrator func(allow []string) *tool.Orchestrator
	Depth             int
}

// NewSubAgentRunner returns a builtin.SubAgentRunner that loads the named
// config, builds a tool-scoped orchestrator, and drives a nested RunTask to
// completion, returning its final assistant text. Depth is enforced at
// MaxSubAgentDepth so a sub-agent can never itself spawn a sub-agent.
func NewSubAgentRunner(cfg SubAgentRunnerConfig) builtin.SubAgentRunner {
	return func(ctx context.Context, req builtin.SubAgentRequest) (builtin.SubAgentResult, error) {
		if cfg.Depth >= MaxSubAgentDepth {
			return builtin.SubAgentResult{}, fmt.Errorf("sub-agent recursion limit reached (depth %d)", cfg.Depth)
		}

		sc, err := LoadSubAgentConfig(cfg.ConfigDir, req.Name)
		if err != nil {
			return builtin.SubAgentResult{}, err
		}

		orch := cfg.BuildOrchestrator(sc.Tools)
		sess := NewSession(cfg.WorkingDir, sc.Model)
		if sc.SystemPrompt != "" {
			sess.appendMessage(provider.Message{Role: "system", Content: sc.SystemPrompt, CreatedAt: time.Now()})
		}

		var out strings.Builder
		opts := RunTaskOptions{
			Provider:     cfg.Provider,
			Orchestrator: orch,
			WorkingDir:   cfg.WorkingDir,
			NoSandbox:    cfg.NoSandbox,
			UserInput:    req.Prompt,
			MaxRounds:    sc.MaxTurns,
			OnEvent: func(e AgentEvent) {
				if e.Type == EventTextDelta {
					out.WriteString(e.Content)
				}
			},
		}

		if err := RunTask(ctx, sess, opts); err != nil {
			return builtin.SubAgentResult{}, err
		}
		return builtin.SubAgentResult{Output: out.String()}, nil
	}
}
