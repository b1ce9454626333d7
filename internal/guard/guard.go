// Package guard analyzes shell command strings for destructive patterns
// before they reach a real shell, so the bash tool can refuse to run them
// without approval.
package guard

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Risk describes why a command was flagged, if at all.
type Risk struct {
	dangerous bool
	reason    string
}

// IsDangerous reports whether the analyzed command was flagged.
func (r Risk) IsDangerous() bool { return r.dangerous }

// Reason returns the human-readable explanation for a flagged command, or
// "" if it wasn't flagged.
func (r Risk) Reason() string { return r.reason }

// rule matches a simple-command's argv (already word-expanded as literals
// where possible) and returns a reason string when it matches.
type rule func(argv []string) string

var rules = []rule{
	ruleRecursiveForceRemoveRoot,
	ruleDiskDestroyers,
	ruleForcePushToProtectedRef,
	ruleGitHistoryRewrite,
	ruleChmodRecursiveRoot,
}

// pipeToShellPattern flags a remote download piped straight into an
// interpreter, a common supply-chain foot-gun ("curl ... | bash").
var pipeToShellPattern = regexp.MustCompile(`(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba)?sh\b`)

// Analyze parses command and checks every top-level simple command against
// the destructive-pattern rule set. The first match wins.
func Analyze(command string) Risk {
	if strings.Contains(command, ":(){ :|:& };:") || strings.Contains(command, ":(){:|:&};:") {
		return Risk{dangerous: true, reason: "fork bomb pattern detected"}
	}
	if pipeToShellPattern.MatchString(command) {
		return Risk{dangerous: true, reason: "piping a remote download straight into a shell"}
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		// Unparseable input is passed through; the real shell will reject it.
		return Risk{}
	}

	var found Risk
	syntax.Walk(file, func(node syntax.Node) bool {
		if found.dangerous {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		argv := literalArgv(call)
		for _, r := range rules {
			if reason := r(argv); reason != "" {
				found = Risk{dangerous: true, reason: reason}
				return false
			}
		}
		return true
	})
	return found
}

// literalArgv extracts the literal text of each word in a call expression,
// best-effort — words containing substitutions are rendered with their
// literal parts only, which is enough for prefix/flag matching.
func literalArgv(call *syntax.CallExpr) []string {
	argv := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		var b strings.Builder
		for _, part := range word.Parts {
			if lit, ok := part.(*syntax.Lit); ok {
				b.WriteString(lit.Value)
			}
		}
		argv = append(argv, b.String())
	}
	return argv
}

func hasFlag(argv []string, flags ...string) bool {
	for _, a := range argv {
		for _, f := range flags {
			if a == f {
				return true
			}
		}
	}
	return false
}

func ruleRecursiveForceRemoveRoot(argv []string) string {
	if len(argv) == 0 || argv[0] != "rm" {
		return ""
	}
	if !hasFlag(argv, "-rf", "-fr", "-r", "-R") {
		return ""
	}
	for _, a := range argv[1:] {
		switch a {
		case "/", "/*", "~", "~/", "$HOME", "/home", "/etc", "/usr", "/var", "/boot", "/System":
			return "rm -rf targeting a root or home-level path"
		}
		if a == "." && hasFlag(argv, "-rf", "-fr") && len(argv) == 3 {
			return "rm -rf . deletes the entire working directory"
		}
	}
	return ""
}

func ruleDiskDestroyers(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	switch argv[0] {
	case "dd":
		for _, a := range argv[1:] {
			if strings.HasPrefix(a, "of=/dev/") {
				return "dd writing directly to a block device"
			}
		}
	case "mkfs", "mkfs.ext4", "mkfs.xfs", "mkfs.btrfs", "fdisk", "parted":
		return "disk formatting/partitioning command"
	case "shred":
		return "shred permanently destroys file contents"
	}
	return ""
}

func ruleForcePushToProtectedRef(argv []string) string {
	if len(argv) < 2 || argv[0] != "git" || argv[1] != "push" {
		return ""
	}
	if !hasFlag(argv, "-f", "--force", "--force-with-lease") {
		return ""
	}
	for _, a := range argv {
		if a == "main" || a == "master" || a == "origin/main" || a == "origin/master" {
			return "force-push to a protected branch"
		}
	}
	return ""
}

func ruleGitHistoryRewrite(argv []string) string {
	if len(argv) < 2 || argv[0] != "git" {
		return ""
	}
	if argv[1] == "filter-branch" || argv[1] == "filter-repo" {
		return "git history rewrite affecting the whole repository"
	}
	if argv[1] == "reset" && hasFlag(argv, "--hard") {
		return "git reset --hard discards uncommitted work"
	}
	if argv[1] == "clean" && hasFlag(argv, "-fdx", "-xfd", "-fd") {
		return "git clean removes untracked and ignored files"
	}
	return ""
}

func ruleChmodRecursiveRoot(argv []string) string {
	if len(argv) == 0 || argv[0] != "chmod" {
		return ""
	}
	if !hasFlag(argv, "-R", "--recursive") {
		return ""
	}
	for _, a := range argv[1:] {
		if a == "/" || a == "/*" {
			return "recursive chmod on the filesystem root"
		}
	}
	return ""
}
