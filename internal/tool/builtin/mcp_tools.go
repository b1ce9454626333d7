package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sacenox/ion/internal/tool"
)

var mcpToolsParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Substring to search for among connected MCP servers' tool names and descriptions"}
	},
	"required": ["query"]
}`)

// MCPToolInfo is the minimal shape MCPTools needs from a connected server's
// advertised tool, kept independent of the mcp package's wire types so this
// built-in doesn't pull in the whole MCP client.
type MCPToolInfo struct {
	Name        string
	Description string
}

// MCPToolsLister returns every tool currently advertised by connected MCP
// servers (local + upstream).
type MCPToolsLister func(ctx context.Context) ([]MCPToolInfo, error)

// MCPTools does a substring search over connected MCP servers' advertised
// tools, so the model can discover capabilities beyond the built-in set
// without listing all of them up front.
type MCPTools struct {
	Lister MCPToolsLister
}

func (MCPTools) Name() string        { return "mcp_tools" }
func (MCPTools) Description() string {
	return "Search connected MCP servers' tools by name or description substring."
}
func (MCPTools) Parameters() json.RawMessage   { return mcpToolsParams }
func (MCPTools) DangerLevel() tool.DangerLevel { return tool.Safe }

func (t MCPTools) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	query, err := argString(args, "query")
	if err != nil {
		return tool.Result{}, err
	}
	if t.Lister == nil {
		return tool.Result{Content: "No MCP servers connected."}, nil
	}

	tools, err := t.Lister(ctx)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("list MCP tools: %v", err)
	}

	q := strings.ToLower(query)
	var b strings.Builder
	matches := 0
	for _, info := range tools {
		if strings.Contains(strings.ToLower(info.Name), q) || strings.Contains(strings.ToLower(info.Description), q) {
			fmt.Fprintf(&b, "%s: %s\n", info.Name, info.Description)
			matches++
		}
	}
	if matches == 0 {
		return tool.Result{Content: "No matching MCP tools found."}, nil
	}
	return tool.Result{Content: strings.TrimRight(b.String(), "\n")}, nil
}
