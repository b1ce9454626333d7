package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeTool struct {
	name    string
	danger  DangerLevel
	calls   int
	content string
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "a fake tool" }
func (f *fakeTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) DangerLevel() DangerLevel    { return f.danger }
func (f *fakeTool) Execute(ctx context.Context, raw json.RawMessage, tctx *Context) (Result, error) {
	f.calls++
	return Result{Content: f.content}, nil
}

func TestReadModeBlocksRestrictedTools(t *testing.T) {
	ft := &fakeTool{name: "write", danger: Restricted}
	o := NewOrchestrator(&Matrix{Mode: ModeRead}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "write", nil, nil, &Context{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected denial in Read mode")
	}
	if !strings.Contains(res.Content, "Mutations are blocked in Read mode") {
		t.Fatalf("denial message = %q", res.Content)
	}
	if ft.calls != 0 {
		t.Fatalf("tool executed %d times despite denial", ft.calls)
	}
}

func TestWriteModeAllowsSafeWithoutApprover(t *testing.T) {
	ft := &fakeTool{name: "read", danger: Safe, content: "ok"}
	o := NewOrchestrator(&Matrix{Mode: ModeWrite}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "read", nil, nil, &Context{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError || res.Content != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ft.calls != 1 {
		t.Fatalf("expected exactly one execution, got %d", ft.calls)
	}
}

func TestWriteModeRestrictedNeedsApproval(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted, content: "ran"}
	asked := 0

	approve := func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		asked++
		return ApprovalOnce, nil
	}
	o := NewOrchestrator(&Matrix{Mode: ModeWrite, Approver: approve}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", map[string]any{"command": "make deploy"}, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError || res.Content != "ran" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if asked != 1 {
		t.Fatalf("approver asked %d times, want 1", asked)
	}

	// ApprovalOnce must not allow-list: the same command asks again.
	if _, err := o.Call(context.Background(), "bash", map[string]any{"command": "make deploy"}, nil, &Context{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if asked != 2 {
		t.Fatalf("one-off approval leaked into the allow-list, asked %d times", asked)
	}
}

func TestWriteModeDeclinedApproval(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted}
	decline := func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) { return ApprovalDeny, nil }
	o := NewOrchestrator(&Matrix{Mode: ModeWrite, Approver: decline}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", map[string]any{"command": "make deploy"}, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result after declined approval")
	}
	if ft.calls != 0 {
		t.Fatal("tool must not execute after a declined approval")
	}
}

func TestWriteModeNoApproverDenies(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted}
	o := NewOrchestrator(&Matrix{Mode: ModeWrite}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", map[string]any{"command": "make deploy"}, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Fatal("NeedsApproval with no approver must become a denial")
	}
	if ft.calls != 0 {
		t.Fatal("tool must not execute without approval")
	}
}

func TestBashAllowlistBypassesApproval(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted, content: "clean"}
	asked := 0
	approve := func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		asked++
		return ApprovalOnce, nil
	}
	o := NewOrchestrator(&Matrix{
		Mode:                ModeWrite,
		Approver:            approve,
		AllowedBashPrefixes: []string{"git status"},
	}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", map[string]any{"command": "git  status --short"}, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if asked != 0 {
		t.Fatalf("allow-listed command should not ask for approval, asked %d times", asked)
	}
}

func TestSessionApprovalAllowlistsCommand(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted, content: "ran"}
	asked := 0
	approve := func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		asked++
		return ApprovalSession, nil
	}
	o := NewOrchestrator(NewMatrix(ModeWrite, approve), NewRegistry())
	o.Register(ft)

	for i := 0; i < 2; i++ {
		res, err := o.Call(context.Background(), "bash", map[string]any{"command": "make deploy"}, nil, &Context{})
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if res.IsError {
			t.Fatalf("Call %d: %+v", i, res)
		}
	}
	if asked != 1 {
		t.Fatalf("session approval should stick for the same command, asked %d times", asked)
	}

	// A different command is a fresh decision: bash approval is
	// per-command, never per-tool.
	if _, err := o.Call(context.Background(), "bash", map[string]any{"command": "make clean"}, nil, &Context{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if asked != 2 {
		t.Fatalf("different command should ask again, asked %d times", asked)
	}
}

func TestPermanentApprovalPersistsAndAllowlistsTool(t *testing.T) {
	ft := &fakeTool{name: "write", danger: Restricted, content: "written"}
	asked := 0
	approve := func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		asked++
		return ApprovalAlways, nil
	}
	m := NewMatrix(ModeWrite, approve)
	var persistedTools []string
	m.PersistPermanent = func(tools, commands []string) { persistedTools = tools }

	o := NewOrchestrator(m, NewRegistry())
	o.Register(ft)

	for i := 0; i < 2; i++ {
		if _, err := o.Call(context.Background(), "write", map[string]any{"file_path": "a.txt"}, nil, &Context{}); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if asked != 1 {
		t.Fatalf("permanent approval should stick, asked %d times", asked)
	}
	if len(persistedTools) != 1 || persistedTools[0] != "write" {
		t.Fatalf("persistence hook got %v", persistedTools)
	}

	// A fresh matrix seeded from the persisted list never asks.
	m2 := NewMatrix(ModeWrite, approve)
	m2.LoadPermanent(persistedTools, nil)
	o2 := NewOrchestrator(m2, NewRegistry())
	o2.Register(&fakeTool{name: "write", danger: Restricted, content: "written"})
	if _, err := o2.Call(context.Background(), "write", map[string]any{"file_path": "a.txt"}, nil, &Context{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if asked != 1 {
		t.Fatalf("seeded permanent allow-list should not ask, asked %d times", asked)
	}
}

func TestAgiModeAllowsEverything(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Restricted, content: "ran"}
	o := NewOrchestrator(&Matrix{Mode: ModeAgi}, NewRegistry())
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", map[string]any{"command": "anything"}, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected denial in Agi mode: %+v", res)
	}
}

func TestMCPFallbackForUnknownTool(t *testing.T) {
	o := NewOrchestrator(&Matrix{Mode: ModeRead}, NewRegistry())
	o.SetMCPFallback(func(ctx context.Context, toolName string, args map[string]any) (Result, error) {
		return Result{Content: "via mcp: " + toolName}, nil
	})

	res, err := o.Call(context.Background(), "weather_lookup", nil, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Content != "via mcp: weather_lookup" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUnknownToolWithoutMCP(t *testing.T) {
	o := NewOrchestrator(&Matrix{Mode: ModeAgi}, NewRegistry())
	res, err := o.Call(context.Background(), "nope", nil, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPreHookBlocks(t *testing.T) {
	ft := &fakeTool{name: "bash", danger: Safe}
	hooks := NewRegistry()
	hooks.AddPre("bash", func(ctx context.Context, toolName string, args map[string]any, tctx *Context) (HookResult, error) {
		return HookResult{Decision: HookBlock, Message: "blocked by policy"}, nil
	})
	o := NewOrchestrator(&Matrix{Mode: ModeAgi}, hooks)
	o.Register(ft)

	res, err := o.Call(context.Background(), "bash", nil, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError || res.Content != "blocked by policy" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ft.calls != 0 {
		t.Fatal("blocked tool must not execute")
	}
}

func TestPostHookRewritesOutput(t *testing.T) {
	ft := &fakeTool{name: "read", danger: Safe, content: "raw output"}
	hooks := NewRegistry()
	hooks.AddPost("read", func(ctx context.Context, toolName string, args map[string]any, result Result, tctx *Context) (HookResult, error) {
		return HookResult{Decision: HookModified, Content: "rewritten"}, nil
	})
	o := NewOrchestrator(&Matrix{Mode: ModeAgi}, hooks)
	o.Register(ft)

	res, err := o.Call(context.Background(), "read", nil, nil, &Context{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Content != "rewritten" {
		t.Fatalf("post hook did not rewrite output: %+v", res)
	}
}

func TestSanitizeToolName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"bash", "bash"},
		{"  bash  ", "bash"},
		{"bash(ls -la)", "bash"},
		{"<tool_call>bash</tool_call>", "bash"},
		{"read(./x.txt) ", "read"},
	}
	for _, c := range cases {
		if got := SanitizeToolName(c.in); got != c.want {
			t.Errorf("SanitizeToolName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCheckSandbox(t *testing.T) {
	dir := t.TempDir()

	tctx := &Context{WorkingDir: dir}
	if _, err := tctx.CheckSandbox("/etc/passwd"); err == nil {
		t.Fatal("expected out-of-sandbox path to be rejected")
	} else if !strings.Contains(err.Error(), "outside the sandbox") {
		t.Fatalf("error message = %q", err)
	}

	if _, err := tctx.CheckSandbox("sub/new-file.txt"); err != nil {
		t.Fatalf("in-sandbox path with nonexistent parent rejected: %v", err)
	}
	if _, err := tctx.CheckSandbox("new-file.txt"); err != nil {
		t.Fatalf("in-sandbox new file rejected: %v", err)
	}
	if _, err := tctx.CheckSandbox("../escape.txt"); err == nil {
		t.Fatal("expected ../ escape to be rejected")
	}

	open := &Context{WorkingDir: dir, NoSandbox: true}
	if _, err := open.CheckSandbox("/etc/passwd"); err != nil {
		t.Fatalf("no_sandbox should allow any path: %v", err)
	}
}
