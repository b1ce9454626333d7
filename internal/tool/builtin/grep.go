package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sacenox/ion/internal/filesearch"
	"github.com/sacenox/ion/internal/tool"
)

const maxGrepResults = 500

var grepParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "description": "The regex pattern to search for"},
		"path": {"type": "string", "description": "The directory or file to search in (defaults to current working directory)"}
	},
	"required": ["pattern"]
}`)

// Grep searches file contents for a regex pattern, honoring .gitignore.
type Grep struct{}

func (Grep) Name() string                  { return "grep" }
func (Grep) Description() string           { return "Search for a pattern in files (regex supported)" }
func (Grep) Parameters() json.RawMessage   { return grepParams }
func (Grep) DangerLevel() tool.DangerLevel { return tool.Safe }

func (Grep) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	pattern, err := argString(args, "pattern")
	if err != nil {
		return tool.Result{}, err
	}
	searchPath := argStringOr(args, "path", ".")

	validated, err := tctx.CheckSandbox(searchPath)
	if err != nil {
		return tool.Result{}, tool.NewPermissionDenied(err.Error())
	}

	searcher, err := filesearch.NewSearcher(tctx.WorkingDir)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("failed to build searcher: %v", err)
	}

	results, err := searcher.Search(ctx, filesearch.Options{
		Pattern:       pattern,
		ContentSearch: true,
		MaxResults:    maxGrepResults + 1,
		CaseSensitive: true,
		RootDir:       validated,
	})
	if err != nil {
		return tool.Result{}, tool.NewInvalidArgs("Invalid regex: %v", err)
	}

	truncated := len(results) > maxGrepResults
	if truncated {
		results = results[:maxGrepResults]
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s:%d: %s", r.Path, r.Line, strings.TrimSpace(r.Content)))
	}

	content := "No matches found."
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
	}
	if truncated {
		content += fmt.Sprintf("\n\n[Truncated: showing first %d matches]", maxGrepResults)
	}

	return tool.Result{Content: content, Metadata: map[string]any{"match_count": len(results), "truncated": truncated}}, nil
}
