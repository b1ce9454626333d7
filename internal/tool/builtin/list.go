package builtin

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sacenox/ion/internal/filesearch"
	"github.com/sacenox/ion/internal/tool"
)

var listParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Directory to list (default: current directory)"},
		"depth": {"type": "integer", "description": "Maximum depth to recurse (default: 1 for non-recursive)"},
		"type": {"type": "string", "enum": ["file", "dir", "all"], "description": "Filter by type: file, dir, or all (default: all)"},
		"hidden": {"type": "boolean", "description": "Include hidden files (default: false)"}
	}
}`)

// List lists directory contents, honoring .gitignore like fd/find.
type List struct{}

func (List) Name() string                  { return "list" }
func (List) Description() string           { return "List directory contents with optional filtering. Like fd/find but respects .gitignore." }
func (List) Parameters() json.RawMessage   { return listParams }
func (List) DangerLevel() tool.DangerLevel { return tool.Safe }

func (List) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	path := argStringOr(args, "path", ".")
	depth := 1
	if d := argIntPtr(args, "depth"); d != nil {
		depth = *d
	}
	typeFilter := argStringOr(args, "type", "all")
	showHidden := argBoolOr(args, "hidden", false)

	target, err := tctx.CheckSandbox(path)
	if err != nil {
		return tool.Result{}, tool.NewPermissionDenied(err.Error())
	}

	info, err := os.Stat(target)
	if err != nil {
		return tool.Result{}, tool.NewInvalidArgs("Path does not exist: %s", path)
	}
	if !info.IsDir() {
		return tool.Result{}, tool.NewInvalidArgs("Path is not a directory: %s", path)
	}

	gitignore, _ := filesearch.NewGitignoreMatcher(filepath.Join(tctx.WorkingDir, ".gitignore"))

	var entries []string
	rootDepth := strings.Count(filepath.Clean(target), string(filepath.Separator))
	err = filepath.WalkDir(target, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if p == target {
			return nil
		}

		if !showHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(tctx.WorkingDir, p)
		if relErr == nil && gitignore != nil && gitignore.Matches(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		curDepth := strings.Count(filepath.Clean(p), string(filepath.Separator)) - rootDepth
		if curDepth > depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		isDir := d.IsDir()
		switch typeFilter {
		case "file":
			if isDir {
				return nil
			}
		case "dir":
			if !isDir {
				return nil
			}
		}

		display := rel
		if relErr != nil {
			display = p
		}
		display = filepath.ToSlash(display)
		if isDir {
			display += "/"
		}
		entries = append(entries, display)
		return nil
	})
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("failed to list directory: %v", err)
	}
	sort.Strings(entries)

	if len(entries) == 0 {
		return tool.Result{Content: "Directory is empty or all contents are ignored.", Metadata: map[string]any{"count": 0}}, nil
	}
	return tool.Result{Content: strings.Join(entries, "\n"), Metadata: map[string]any{"count": len(entries)}}, nil
}
