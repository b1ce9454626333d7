package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sacenox/ion/internal/tool"
)

const (
	maxReadFileSize = 1_000_000
	defaultReadLimit = 500
)

var readParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "The absolute path to the file to read"},
		"offset": {"type": "integer", "description": "Line number to start reading from (0-indexed)"},
		"limit": {"type": "integer", "description": "Maximum number of lines to read (default: 500)"}
	},
	"required": ["file_path"]
}`)

// Read reads a file from the filesystem, optionally a line range.
type Read struct{}

func (Read) Name() string                   { return "read" }
func (Read) Description() string            { return "Read a file from the filesystem. For large files, use offset and limit to read specific line ranges." }
func (Read) Parameters() json.RawMessage    { return readParams }
func (Read) DangerLevel() tool.DangerLevel  { return tool.Safe }

func (Read) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	filePath, err := argString(args, "file_path")
	if err != nil {
		return tool.Result{}, err
	}
	offset := argIntPtr(args, "offset")
	limit := argIntPtr(args, "limit")

	validated, err := tctx.CheckSandbox(filePath)
	if err != nil {
		return tool.Result{}, tool.NewPermissionDenied(err.Error())
	}

	info, err := os.Stat(validated)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to read file: %v", err)
	}

	if offset != nil || limit != nil {
		start := 0
		if offset != nil {
			start = *offset
		}
		count := defaultReadLimit
		if limit != nil {
			count = *limit
		}

		f, err := os.Open(validated)
		if err != nil {
			return tool.Result{}, tool.NewExecutionFailed("Failed to read file: %v", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		var lines []string
		total := 0
		current := 0
		for scanner.Scan() {
			if current >= start && len(lines) < count {
				lines = append(lines, scanner.Text())
			}
			current++
			total++
		}

		if cb := tctx.IndexCallback; cb != nil {
			cb(validated)
		}

		shownEnd := start + len(lines)
		if shownEnd > total {
			shownEnd = total
		}

		result := joinLines(lines)
		if shownEnd < total {
			result += fmt.Sprintf("\n\n[Showing lines %d-%d of %d. Use offset/limit for more.]", start+1, shownEnd, total)
		}

		return tool.Result{
			Content: result,
			Metadata: map[string]any{
				"total_lines": total,
				"offset":      start,
				"limit":       count,
				"shown":       len(lines),
			},
		}, nil
	}

	if info.Size() > maxReadFileSize {
		return tool.Result{
			IsError: true,
			Content: fmt.Sprintf("File is too large (%d bytes, max %d bytes). Use offset and limit to read specific line ranges.", info.Size(), int64(maxReadFileSize)),
			Metadata: map[string]any{"file_size": info.Size(), "max_size": maxReadFileSize},
		}, nil
	}

	content, err := os.ReadFile(validated)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to read file: %v", err)
	}

	if cb := tctx.IndexCallback; cb != nil {
		cb(validated)
	}

	return tool.Result{Content: string(content), Metadata: map[string]any{"file_size": info.Size()}}, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
