package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sacenox/ion/internal/tool"
)

var editParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "The absolute path to the file to modify"},
		"old_string": {"type": "string", "description": "The exact text to replace (must exist in file)"},
		"new_string": {"type": "string", "description": "The replacement text (must differ from old_string)"},
		"replace_all": {"type": "boolean", "description": "Replace all occurrences (default: false, requires unique match)"}
	},
	"required": ["file_path", "old_string", "new_string"]
}`)

// Edit performs a surgical exact-text replacement in an existing file.
type Edit struct{}

func (Edit) Name() string                  { return "edit" }
func (Edit) Description() string           { return "Edit a file by replacing exact text. Use for surgical edits instead of rewriting entire files." }
func (Edit) Parameters() json.RawMessage   { return editParams }
func (Edit) DangerLevel() tool.DangerLevel { return tool.Restricted }

func (Edit) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	filePath, err := argString(args, "file_path")
	if err != nil {
		return tool.Result{}, err
	}
	oldString, err := argString(args, "old_string")
	if err != nil {
		return tool.Result{}, err
	}
	newString, err := argString(args, "new_string")
	if err != nil {
		return tool.Result{}, err
	}
	replaceAll := argBoolOr(args, "replace_all", false)

	if oldString == newString {
		return tool.Result{}, tool.NewInvalidArgs("old_string and new_string must be different")
	}
	if oldString == "" {
		return tool.Result{}, tool.NewInvalidArgs("old_string cannot be empty. Use the write tool to create new files.")
	}

	validated, err := tctx.CheckSandbox(filePath)
	if err != nil {
		return tool.Result{}, tool.NewPermissionDenied(err.Error())
	}

	if _, err := os.Stat(validated); err != nil {
		return tool.Result{}, tool.NewInvalidArgs("File not found: %s. Use the write tool to create new files.", filePath)
	}

	contentBytes, err := os.ReadFile(validated)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to read file: %v", err)
	}
	content := string(contentBytes)

	count := strings.Count(content, oldString)
	if count == 0 {
		preview := oldString
		suffix := ""
		if len(preview) > 100 {
			preview = preview[:100]
			suffix = "..."
		}
		return tool.Result{}, tool.NewInvalidArgs("Text not found in file: %q%s", preview, suffix)
	}
	if count > 1 && !replaceAll {
		return tool.Result{}, tool.NewInvalidArgs("Text appears %d times. Use replace_all: true or provide more surrounding context for uniqueness.", count)
	}

	var newContent string
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldString, newString)
	} else {
		newContent = strings.Replace(content, oldString, newString, 1)
	}

	if err := os.WriteFile(validated, []byte(newContent), 0644); err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to write file: %v", err)
	}

	if cb := tctx.IndexCallback; cb != nil {
		cb(validated)
	}

	diff := unifiedDiff(filePath, content, newContent)
	occurrences := ""
	if replaceAll && count > 1 {
		occurrences = fmt.Sprintf(" (%d occurrences)", count)
	}

	return tool.Result{Content: fmt.Sprintf("Successfully edited %s%s:\n\n```diff\n%s```", filePath, occurrences, diff)}, nil
}
