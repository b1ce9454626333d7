package tool

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// PermissionStatus is the outcome of checking whether a call may proceed.
type PermissionStatus int

const (
	Allowed PermissionStatus = iota
	NeedsApproval
	Denied
)

// ApprovalDecision is the operator's answer to a NeedsApproval prompt. A
// scope wider than ApprovalOnce grows the matrix's allow-list so the same
// tool (or bash command) never asks again.
type ApprovalDecision int

const (
	ApprovalDeny ApprovalDecision = iota
	ApprovalOnce
	ApprovalSession
	ApprovalAlways
)

// ApprovalRequest describes a call awaiting human sign-off.
type ApprovalRequest struct {
	ToolName string
	Summary  string
	Args     map[string]any
}

// ApprovalHandler asks the operator whether a restricted call may proceed,
// and at what scope. It is nil in modes that never need to ask (ModeRead,
// ModeAgi) and when approval is disabled outright, in which case
// NeedsApproval becomes a denial.
type ApprovalHandler func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

// Matrix decides, for a given mode, whether a tool call needs approval.
// Restricted tools in Write mode are allowed when the tool name (or, for
// bash, the exact command text) is on the session or permanent allow-list;
// both lists grow at runtime as the operator answers approval prompts with
// "session" or "always" scope. Reads dominate writes here, so the lock is
// an RWMutex.
type Matrix struct {
	mu       sync.RWMutex
	Mode     Mode
	Approver ApprovalHandler

	// AllowedBashPrefixes is a caller-configurable static list of command
	// prefixes that never need approval even in ModeWrite (e.g. "git
	// status", "go test"). Matched against the trimmed, space-collapsed
	// command. Distinct from the dynamic per-command allow-lists below,
	// which hold exact commands the operator approved at runtime.
	AllowedBashPrefixes []string

	sessionTools      map[string]bool
	permanentTools    map[string]bool
	sessionCommands   map[string]bool
	permanentCommands map[string]bool

	// PersistPermanent, when set, is called after every permanent grant
	// with the full permanent allow-lists so the caller can write them to
	// disk.
	PersistPermanent func(tools, commands []string)
}

// NewMatrix builds a matrix at the given mode with the default static bash
// prefix list.
func NewMatrix(mode Mode, approver ApprovalHandler) *Matrix {
	return &Matrix{Mode: mode, Approver: approver, AllowedBashPrefixes: DefaultBashAllowlist}
}

// SetMode switches the matrix's mode, e.g. when a consumer toggles between
// read and write.
func (m *Matrix) SetMode(mode Mode) {
	m.mu.Lock()
	m.Mode = mode
	m.mu.Unlock()
}

// ModeNow returns the current mode.
func (m *Matrix) ModeNow() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Mode
}

// AllowToolSession allow-lists a tool name until the process exits.
func (m *Matrix) AllowToolSession(name string) {
	m.mu.Lock()
	if m.sessionTools == nil {
		m.sessionTools = map[string]bool{}
	}
	m.sessionTools[name] = true
	m.mu.Unlock()
}

// AllowToolPermanently allow-lists a tool name and notifies the persistence
// hook.
func (m *Matrix) AllowToolPermanently(name string) {
	m.mu.Lock()
	if m.permanentTools == nil {
		m.permanentTools = map[string]bool{}
	}
	m.permanentTools[name] = true
	m.mu.Unlock()
	m.notifyPersist()
}

// AllowCommandSession allow-lists an exact bash command until the process
// exits.
func (m *Matrix) AllowCommandSession(cmd string) {
	m.mu.Lock()
	if m.sessionCommands == nil {
		m.sessionCommands = map[string]bool{}
	}
	m.sessionCommands[normalizeCommand(cmd)] = true
	m.mu.Unlock()
}

// AllowCommandPermanently allow-lists an exact bash command and notifies
// the persistence hook.
func (m *Matrix) AllowCommandPermanently(cmd string) {
	m.mu.Lock()
	if m.permanentCommands == nil {
		m.permanentCommands = map[string]bool{}
	}
	m.permanentCommands[normalizeCommand(cmd)] = true
	m.mu.Unlock()
	m.notifyPersist()
}

// LoadPermanent seeds the permanent allow-lists, e.g. from a permissions
// file at startup.
func (m *Matrix) LoadPermanent(tools, commands []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tools {
		if m.permanentTools == nil {
			m.permanentTools = map[string]bool{}
		}
		m.permanentTools[t] = true
	}
	for _, c := range commands {
		if m.permanentCommands == nil {
			m.permanentCommands = map[string]bool{}
		}
		m.permanentCommands[normalizeCommand(c)] = true
	}
}

// PermanentAllowlist returns sorted copies of the permanent allow-lists,
// the shape the persistence hook receives.
func (m *Matrix) PermanentAllowlist() (tools, commands []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for t := range m.permanentTools {
		tools = append(tools, t)
	}
	for c := range m.permanentCommands {
		commands = append(commands, c)
	}
	sort.Strings(tools)
	sort.Strings(commands)
	return tools, commands
}

func (m *Matrix) notifyPersist() {
	m.mu.RLock()
	persist := m.PersistPermanent
	m.mu.RUnlock()
	if persist == nil {
		return
	}
	tools, commands := m.PermanentAllowlist()
	persist(tools, commands)
}

// Check decides the permission status for one call, without yet asking the
// approver (that's the orchestrator's job, since asking is side-effecting).
// Bash is checked against the command text, every other tool by name: one
// approval for "bash" must not blanket-approve every future shell command.
func (m *Matrix) Check(t Tool, argsRaw map[string]any) PermissionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.Mode {
	case ModeRead:
		if t.DangerLevel() == Safe {
			return Allowed
		}
		return Denied
	case ModeAgi:
		return Allowed
	case ModeWrite:
		if t.DangerLevel() == Safe {
			return Allowed
		}
		if t.Name() == "bash" {
			if cmd, ok := argsRaw["command"].(string); ok && m.commandAllowed(cmd) {
				return Allowed
			}
			return NeedsApproval
		}
		if m.sessionTools[t.Name()] || m.permanentTools[t.Name()] {
			return Allowed
		}
		return NeedsApproval
	default:
		return Denied
	}
}

// commandAllowed reports whether cmd matches a static safe prefix or an
// exact command the operator approved earlier. Callers hold m.mu.
func (m *Matrix) commandAllowed(cmd string) bool {
	normalized := normalizeCommand(cmd)
	if m.sessionCommands[normalized] || m.permanentCommands[normalized] {
		return true
	}
	for _, prefix := range m.AllowedBashPrefixes {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+" ") {
			return true
		}
	}
	return false
}

// normalizeCommand collapses whitespace so "git  status" and "git status"
// compare equal.
func normalizeCommand(cmd string) string {
	return strings.Join(strings.Fields(cmd), " ")
}

// DefaultBashAllowlist are read-only commands safe to run without approval
// even in ModeWrite.
var DefaultBashAllowlist = []string{
	"git status", "git diff", "git log", "git show", "git branch",
	"ls", "pwd", "go test", "go build", "go vet", "go doc",
}
