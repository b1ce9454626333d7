package builtin

import (
	"context"
	"encoding/json"

	"github.com/sacenox/ion/internal/tool"
)

var spawnSubAgentParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "The configured sub-agent to run, by name"},
		"prompt": {"type": "string", "description": "The task to hand to the sub-agent"}
	},
	"required": ["name", "prompt"]
}`)

// SubAgentRequest is what SpawnSubAgent asks its Runner to execute.
type SubAgentRequest struct {
	Name   string
	Prompt string
}

// SubAgentResult is a completed sub-agent run's final text output.
type SubAgentResult struct {
	Output string
}

// SubAgentRunner actually runs the nested agent turn. Defined here rather
// than imported from internal/agent so this package never depends on it;
// internal/agent depends on this package instead and supplies the runner
// at wiring time (see agent.NewSubAgentRunner).
type SubAgentRunner func(ctx context.Context, req SubAgentRequest) (SubAgentResult, error)

// SpawnSubAgent hands a bounded task off to a named, pre-configured
// sub-agent (its own system prompt, tool whitelist, and model), capped to
// one level of nesting by the Runner.
type SpawnSubAgent struct {
	Runner SubAgentRunner
}

func (SpawnSubAgent) Name() string { return "spawn_subagent" }
func (SpawnSubAgent) Description() string {
	return "Delegate a bounded task to a named sub-agent with its own tool whitelist and system prompt. Use for self-contained sub-tasks that don't need to share this conversation's full context."
}
func (SpawnSubAgent) Parameters() json.RawMessage   { return spawnSubAgentParams }
func (SpawnSubAgent) DangerLevel() tool.DangerLevel { return tool.Safe }

func (t SpawnSubAgent) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	name, err := argString(args, "name")
	if err != nil {
		return tool.Result{}, err
	}
	prompt, err := argString(args, "prompt")
	if err != nil {
		return tool.Result{}, err
	}
	if t.Runner == nil {
		return tool.Result{IsError: true, Content: "sub-agents are not configured in this session"}, nil
	}

	result, err := t.Runner(ctx, SubAgentRequest{Name: name, Prompt: prompt})
	if err != nil {
		return tool.Result{IsError: true, Content: err.Error()}, nil
	}
	return tool.Result{Content: result.Output}, nil
}
