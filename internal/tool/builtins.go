package tool

import (
	"regexp"
	"strings"
)

// toolNameArtifact strips a trailing parenthesized suffix some models emit
// around a tool call, e.g. "bash(ls -la)" instead of a bare "bash".
var toolNameArtifact = regexp.MustCompile(`\([^)]*\)\s*$`)

// SanitizeToolName normalizes a model-issued tool name before registry
// lookup: trims whitespace, drops a trailing "(...)" suffix, and unwraps a
// single layer of XML-ish tags a handful of open models emit around the bare
// name (e.g. "<tool_call>bash</tool_call>").
func SanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	name = toolNameArtifact.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "<") {
		if idx := strings.Index(name, ">"); idx >= 0 && idx < len(name)-1 {
			inner := name[idx+1:]
			if end := strings.Index(inner, "<"); end >= 0 {
				name = inner[:end]
			}
		}
	}
	return strings.TrimSpace(name)
}

// Builtins is the set of constructed, ready-to-register built-in tools. The
// caller assembles it with whatever shared dependencies (a shell, a web
// cache, a subagent spawner) its process has wired up, then passes it to
// WithBuiltins or RegisterAll — mirroring how the orchestrator's own fields
// are plain struct state rather than a global registry.
type Builtins struct {
	Tools []Tool
}

// RegisterAll adds every tool in b to the orchestrator in a stable order.
func (b Builtins) RegisterAll(o *Orchestrator) {
	for _, t := range b.Tools {
		o.Register(t)
	}
}
