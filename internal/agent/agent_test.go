package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sacenox/ion/internal/provider"
	"github.com/sacenox/ion/internal/tool"
)

// echoTool is a minimal Tool used to exercise the loop without pulling in
// the real built-ins and their shell/filesystem dependencies.
type echoTool struct{ calls int }

func (t *echoTool) Name() string                 { return "echo" }
func (t *echoTool) Description() string          { return "echoes its input" }
func (t *echoTool) Parameters() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) DangerLevel() tool.DangerLevel { return tool.Safe }
func (t *echoTool) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	t.calls++
	return tool.Result{Content: "echoed"}, nil
}

func newTestOrchestrator(tools ...tool.Tool) *tool.Orchestrator {
	o := tool.NewOrchestrator(&tool.Matrix{Mode: tool.ModeAgi}, tool.NewRegistry())
	for _, t := range tools {
		o.Register(t)
	}
	return o
}

func TestRunTask_NoToolCalls(t *testing.T) {
	prov := provider.NewMock("mock", []provider.StreamEvent{
		{Type: provider.EventContentDelta, Content: "hello"},
		{Type: provider.EventDone},
	})
	sess := NewSession("/tmp/work", "mock-model")
	orch := newTestOrchestrator()

	var events []AgentEvent
	err := RunTask(context.Background(), sess, RunTaskOptions{
		Provider:     prov,
		Orchestrator: orch,
		WorkingDir:   "/tmp/work",
		UserInput:    "hi",
		OnEvent:      func(e AgentEvent) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	msgs := sess.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (user, assistant), got %d", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}

	if events[len(events)-1].Type != EventDone {
		t.Fatalf("expected final event to be EventDone, got %v", events[len(events)-1].Type)
	}
}

func TestRunTask_ToolCallRoundTrip(t *testing.T) {
	et := &echoTool{}
	orch := newTestOrchestrator(et)

	prov := provider.NewMock("mock", nil).WithScripts(
		[]provider.StreamEvent{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "call-1", ToolCallName: "echo"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{}`},
			{Type: provider.EventDone},
		},
		[]provider.StreamEvent{
			{Type: provider.EventContentDelta, Content: "done"},
			{Type: provider.EventDone},
		},
	)

	sess := NewSession("/tmp/work", "mock-model")
	err := RunTask(context.Background(), sess, RunTaskOptions{
		Provider:     prov,
		Orchestrator: orch,
		WorkingDir:   "/tmp/work",
		UserInput:    "use the echo tool",
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if et.calls != 1 {
		t.Fatalf("expected echo tool to be called once, got %d", et.calls)
	}

	msgs := sess.Snapshot()
	// user, assistant(tool_calls), tool(result), assistant(final)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "call-1" || msgs[2].Content != "echoed" {
		t.Fatalf("unexpected tool result message: %+v", msgs[2])
	}
	if msgs[3].Content != "done" {
		t.Fatalf("unexpected final assistant message: %+v", msgs[3])
	}
}

// TestRunTask_QueuedSteeringLandsBeforeToolResult exercises S3: a message
// pushed onto the session's queue while tool calls are in flight must be
// appended between the assistant's tool-call message and the ensuing
// tool-result message(s), never inside or after them.
func TestRunTask_QueuedSteeringLandsBeforeToolResult(t *testing.T) {
	et := &echoTool{}
	orch := newTestOrchestrator(et)

	prov := provider.NewMock("mock", nil).WithScripts(
		[]provider.StreamEvent{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "call-1", ToolCallName: "echo"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{}`},
			{Type: provider.EventDone},
		},
		[]provider.StreamEvent{
			{Type: provider.EventContentDelta, Content: "done"},
			{Type: provider.EventDone},
		},
	)

	sess := NewSession("/tmp/work", "mock-model")
	sess.Steer("also delete foo")

	err := RunTask(context.Background(), sess, RunTaskOptions{
		Provider:     prov,
		Orchestrator: orch,
		WorkingDir:   "/tmp/work",
		UserInput:    "use the echo tool",
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	// user, assistant(tool_calls), user(steering), tool(result), assistant(final)
	msgs := sess.Snapshot()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[1].Role != "assistant" || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("unexpected assistant tool-call message: %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "also delete foo" {
		t.Fatalf("expected steering message between tool call and tool result, got: %+v", msgs[2])
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "call-1" {
		t.Fatalf("unexpected tool result message: %+v", msgs[3])
	}
}

func TestRunTask_RetriesTransientError(t *testing.T) {
	orig := backoffBase
	backoffBase = 10 * time.Millisecond
	defer func() { backoffBase = orig }()

	orch := newTestOrchestrator()
	prov := provider.NewMock("mock", nil).
		WithStreamError(errors.New("503 Service Unavailable")).
		WithScripts(
			nil, // first call: streamErr fires before this is consulted
			[]provider.StreamEvent{
				{Type: provider.EventContentDelta, Content: "ok"},
				{Type: provider.EventDone},
			},
		)

	sess := NewSession("/tmp/work", "mock-model")
	var retries int
	err := RunTask(context.Background(), sess, RunTaskOptions{
		Provider:     prov,
		Orchestrator: orch,
		WorkingDir:   "/tmp/work",
		UserInput:    "hi",
		OnEvent: func(e AgentEvent) {
			if e.Type == EventRetry {
				retries++
			}
		},
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if retries != 1 {
		t.Fatalf("expected exactly one retry event, got %d", retries)
	}
}

func TestRunTask_CancellationSurfacesContextError(t *testing.T) {
	orch := newTestOrchestrator()
	prov := provider.NewMock("mock", []provider.StreamEvent{
		{Type: provider.EventContentDelta, Content: "hi"},
		{Type: provider.EventDone},
	})

	sess := NewSession("/tmp/work", "mock-model")
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before the turn starts

	err := RunTask(ctx, sess, RunTaskOptions{
		Provider:     prov,
		Orchestrator: orch,
		WorkingDir:   "/tmp/work",
		UserInput:    "hi",
	})
	if err == nil {
		t.Fatalf("expected RunTask to return the cancellation error")
	}
}

// TestFinalizeCancelledRound verifies the dangling-tool-call invariant
// directly: a partial response that had begun tool calls when cancellation
// landed must still get a synthetic result for every one of them, so the
// session's tool_use/tool_result pairing never breaks.
func TestFinalizeCancelledRound(t *testing.T) {
	sess := NewSession("/tmp/work", "mock-model")
	resp := &provider.ChatResponse{
		Content:   "partial thought",
		ToolCalls: []provider.ToolCall{{ID: "call-1", Name: "echo"}, {ID: "call-2", Name: "echo"}},
	}
	finalizeCancelledRound(sess, resp)

	msgs := sess.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected assistant + 2 synthetic tool results, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) != 2 {
		t.Fatalf("unexpected assistant message: %+v", msgs[0])
	}
	for _, id := range []string{"call-1", "call-2"} {
		found := false
		for _, m := range msgs[1:] {
			if m.Role == "tool" && m.ToolCallID == id && m.Content == "cancelled" {
				found = true
			}
		}
		if !found {
			t.Fatalf("no synthetic cancelled result for %q", id)
		}
	}
}

func TestCompactPreservesToolPairing(t *testing.T) {
	messages := []provider.Message{
		{Role: "user", Content: "start"},
		{Role: "assistant", Content: "", ToolCalls: []provider.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: "tool", ToolCallID: "1", Content: "echoed"},
		{Role: "user", Content: "more"},
	}
	cut := safeCutPoint(messages, 2)
	if cut == 2 {
		t.Fatalf("safeCutPoint should not land on a tool-result message, got cut=%d", cut)
	}
	if messages[cut].Role == "tool" {
		t.Fatalf("cut point %d still lands on a tool message", cut)
	}
}

func TestMessageQueueDrainOrder(t *testing.T) {
	q := NewMessageQueue()
	q.Push("first")
	q.Push("second")
	got := q.DrainAll()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected drain order: %v", got)
	}
	if len(q.DrainAll()) != 0 {
		t.Fatalf("expected empty queue after drain")
	}
}

func TestRetryPolicy(t *testing.T) {
	cases := []struct {
		class errorClass
		max   int
	}{
		{classRateLimited, 5},
		{classServerError, 3},
		{classNetwork, 3},
		{classAuth, 2},
		{classBadRequest, 1},
	}
	for _, c := range cases {
		if got := maxAttemptsFor(c.class); got != c.max {
			t.Errorf("maxAttemptsFor(%v) = %d, want %d", c.class, got, c.max)
		}
	}

	if retryDelayFor(0) != backoffBase {
		t.Fatalf("first delay = %v, want %v", retryDelayFor(0), backoffBase)
	}
	prev := retryDelayFor(0)
	for i := 1; i < 10; i++ {
		d := retryDelayFor(i)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", i, d, prev)
		}
		if d > backoffCap {
			t.Fatalf("delay exceeded cap at attempt %d: %v", i, d)
		}
		prev = d
	}
	if retryDelayFor(9) != backoffCap {
		t.Fatalf("expected cap at high attempts, got %v", retryDelayFor(9))
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg   string
		class errorClass
		retry bool
	}{
		{"429 Too Many Requests", classRateLimited, true},
		{"503 Service Unavailable", classServerError, true},
		{"dial tcp: connection refused", classNetwork, true},
		{"401 Unauthorized: invalid_api_key", classAuth, true},
		{"400 Bad Request: invalid_request", classBadRequest, false},
	}
	for _, c := range cases {
		got := classifyError(errors.New(c.msg))
		if got != c.class {
			t.Errorf("classifyError(%q) = %v, want %v", c.msg, got, c.class)
		}
		if isRetryable(got) != c.retry {
			t.Errorf("isRetryable(classifyError(%q)) = %v, want %v", c.msg, isRetryable(got), c.retry)
		}
	}
}
