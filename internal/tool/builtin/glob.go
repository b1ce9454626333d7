package builtin

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sacenox/ion/internal/tool"
)

var globParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "description": "The glob pattern to search for"}
	},
	"required": ["pattern"]
}`)

// Glob finds files matching a shell glob pattern, including "**" recursive
// wildcards, rooted at the working directory.
type Glob struct{}

func (Glob) Name() string                  { return "glob" }
func (Glob) Description() string           { return "Find files matching a glob pattern (e.g., 'src/**/*.go')" }
func (Glob) Parameters() json.RawMessage   { return globParams }
func (Glob) DangerLevel() tool.DangerLevel { return tool.Safe }

func (Glob) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	pattern, err := argString(args, "pattern")
	if err != nil {
		return tool.Result{}, err
	}

	var matches []string
	err = filepath.WalkDir(tctx.WorkingDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(tctx.WorkingDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchGlob(pattern, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Invalid glob pattern: %v", err)
	}
	sort.Strings(matches)

	if len(matches) == 0 {
		return tool.Result{Content: "No files found matching the pattern.", Metadata: map[string]any{"count": 0}}, nil
	}
	return tool.Result{Content: strings.Join(matches, "\n"), Metadata: map[string]any{"count": len(matches)}}, nil
}

// matchGlob matches a slash-separated path against a pattern where "**"
// matches zero or more path segments and "*"/"?"/"[...]" match within a
// single segment (standard filepath.Match semantics per segment).
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, name []string) bool {
	if len(pat) == 0 {
		return len(name) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return matchSegments(pat, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], name[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], name[1:])
}
