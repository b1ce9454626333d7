package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sacenox/ion/internal/tool"
)

const maxDiffSourceSize = 1_000_000

var writeParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "The absolute path to the file to write"},
		"content": {"type": "string", "description": "The content to write to the file"}
	},
	"required": ["file_path", "content"]
}`)

// Write overwrites a file's content, creating parent directories as needed.
type Write struct{}

func (Write) Name() string                  { return "write" }
func (Write) Description() string           { return "Write content to a file. Overwrites existing content." }
func (Write) Parameters() json.RawMessage   { return writeParams }
func (Write) DangerLevel() tool.DangerLevel { return tool.Restricted }

func (Write) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	filePath, err := argString(args, "file_path")
	if err != nil {
		return tool.Result{}, err
	}
	content, err := argString(args, "content")
	if err != nil {
		return tool.Result{}, err
	}

	validated, err := tctx.CheckSandbox(filePath)
	if err != nil {
		return tool.Result{}, tool.NewPermissionDenied(err.Error())
	}

	var oldContent string
	hadOld := false
	if info, statErr := os.Stat(validated); statErr == nil && info.Size() <= maxDiffSourceSize {
		if b, readErr := os.ReadFile(validated); readErr == nil {
			oldContent = string(b)
			hadOld = true
		}
	}

	if parent := filepath.Dir(validated); parent != "." {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return tool.Result{}, tool.NewExecutionFailed("Failed to create directories: %v", err)
		}
	}

	if err := os.WriteFile(validated, []byte(content), 0644); err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to write file: %v", err)
	}

	if cb := tctx.IndexCallback; cb != nil {
		cb(validated)
	}

	lineCount := strings.Count(content, "\n") + 1

	var msg string
	if hadOld {
		diff := unifiedDiff(filePath, oldContent, content)
		if strings.TrimSpace(diff) == "" {
			msg = fmt.Sprintf("Wrote %s (no changes)", filePath)
		} else {
			msg = fmt.Sprintf("Wrote %s:\n%s", filePath, diff)
		}
	} else {
		msg = fmt.Sprintf("Created %s (%d lines)", filePath, lineCount)
	}

	return tool.Result{Content: msg}, nil
}
