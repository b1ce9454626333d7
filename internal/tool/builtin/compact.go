package builtin

import (
	"context"
	"encoding/json"

	"github.com/sacenox/ion/internal/tool"
)

var compactParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"reason": {"type": "string", "description": "Why compaction is being requested now"}
	}
}`)

// Compact is a sentinel tool: its own result is never trusted. The agent
// turn loop recognizes the call by name after execution and runs the real
// compaction routine, replacing the oldest messages with a summary.
type Compact struct{}

func (Compact) Name() string        { return "compact" }
func (Compact) Description() string {
	return "Summarize and compact the conversation history to free up context space. Use when the conversation is getting long."
}
func (Compact) Parameters() json.RawMessage   { return compactParams }
func (Compact) DangerLevel() tool.DangerLevel { return tool.Safe }

func (Compact) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	return tool.Result{Content: "Compaction requested."}, nil
}
