package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sacenox/ion/internal/guard"
	"github.com/sacenox/ion/internal/shell"
	"github.com/sacenox/ion/internal/tool"
)

const maxBashOutputSize = 100_000

var bashParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string", "description": "The command to execute"},
		"directory": {"type": "string", "description": "Working directory for this command (default: project root)"}
	},
	"required": ["command"]
}`)

// Bash runs a command through the in-process POSIX interpreter, after
// screening it against the destructive-command guard.
type Bash struct {
	Shell *shell.Shell
}

func (Bash) Name() string        { return "bash" }
func (Bash) Description() string {
	return "Execute a shell command. Use for git, build tools, package managers, and system operations. Prefer specialized tools (glob, grep, read, edit) for file operations."
}
func (Bash) Parameters() json.RawMessage   { return bashParams }
func (Bash) DangerLevel() tool.DangerLevel { return tool.Restricted }

func (b Bash) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	command, err := argString(args, "command")
	if err != nil {
		return tool.Result{}, err
	}
	directory := argStringOr(args, "directory", "")

	if directory != "" {
		target := directory
		if !filepath.IsAbs(target) {
			target = filepath.Join(tctx.WorkingDir, directory)
		}
		if _, err := tctx.CheckSandbox(target); err != nil {
			return tool.Result{}, tool.NewPermissionDenied(err.Error())
		}
	}

	if risk := guard.Analyze(command); risk.IsDangerous() {
		return tool.Result{
			IsError: true,
			Content: fmt.Sprintf("⚠️ BLOCKED: Destructive command detected.\n\nReason: %s\n\nIf you need to run this command, explain why it's safe and ask the user to run it manually.", risk.Reason()),
			Metadata: map[string]any{
				"blocked": true,
				"reason":  risk.Reason(),
				"command": command,
			},
		}, nil
	}

	sh := b.Shell
	if sh == nil {
		sh = shell.New(tctx.WorkingDir, nil)
	}
	if directory != "" {
		sh = shell.New(directory, nil)
	}

	var stdout, stderr bytes.Buffer
	execErr := sh.ExecStream(ctx, command, &stdout, &stderr)
	exitCode := shell.ExitCode(execErr)

	content := stdout.String()
	if stderr.Len() > 0 {
		if content != "" {
			content += "\n"
		}
		content += "STDERR:\n" + stderr.String()
	}

	truncated := len(content) > maxBashOutputSize
	if truncated {
		content = truncateUTF8(content, maxBashOutputSize) + "\n\n[Output truncated]"
	}

	return tool.Result{
		Content: content,
		IsError: exitCode != 0,
		Metadata: map[string]any{
			"exit_code": exitCode,
			"truncated": truncated,
		},
	}, nil
}

func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s)[:maxBytes]
	for len(b) > 0 && !isUTF8Boundary(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(c byte) bool {
	return c&0xC0 != 0x80
}
