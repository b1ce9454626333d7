// Package agent implements the provider-agnostic agent turn loop: it drives
// one or more round-trips to a provider.Provider, dispatches any tool calls
// through a tool.Orchestrator, and streams progress back to the caller as
// AgentEvents. It has no knowledge of any particular UI.
package agent

import "time"

// AgentEventType tags the kind of progress update RunTask emits.
type AgentEventType int

const (
	EventTextDelta AgentEventType = iota
	EventThinkingDelta
	EventToolCallStart
	EventToolCallArgsDelta
	EventToolCallEnd
	EventUsage
	EventRetry
	EventCompacted
	EventDone
	EventError
)

// AgentEvent is the superset progress event a consumer (a TUI, a headless
// CLI driver, a test) observes while a turn runs. Only the fields relevant
// to Type are populated.
type AgentEvent struct {
	Type AgentEventType

	// Text/reasoning deltas.
	Content string

	// Tool call lifecycle.
	ToolCallID   string
	ToolCallName string
	ToolArgs     string
	ToolResult   string
	ToolIsError  bool

	// Usage.
	InputTokens  int
	OutputTokens int

	// Retry.
	RetryAttempt int
	RetryDelay   time.Duration
	RetryReason  string

	// Error.
	Err error
}
