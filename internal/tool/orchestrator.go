package tool

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Orchestrator routes a model-issued tool call through permission checks,
// hooks, execution, and result post-processing.
type Orchestrator struct {
	tools   map[string]Tool
	order   []string
	matrix  *Matrix
	hooks   *Registry
	mcpCall func(ctx context.Context, toolName string, args map[string]any) (Result, error)
}

// NewOrchestrator builds an empty orchestrator; use Register to add tools.
func NewOrchestrator(matrix *Matrix, hooks *Registry) *Orchestrator {
	if hooks == nil {
		hooks = NewRegistry()
	}
	return &Orchestrator{
		tools:  map[string]Tool{},
		matrix: matrix,
		hooks:  hooks,
	}
}

// Register adds a tool, preserving registration order for listing.
func (o *Orchestrator) Register(t Tool) {
	if _, exists := o.tools[t.Name()]; !exists {
		o.order = append(o.order, t.Name())
	}
	o.tools[t.Name()] = t
}

// SetMCPFallback wires a function invoked when a tool name isn't found
// locally, letting MCP-provided tools participate in the same pipeline.
func (o *Orchestrator) SetMCPFallback(fn func(ctx context.Context, toolName string, args map[string]any) (Result, error)) {
	o.mcpCall = fn
}

// Tools returns the registered tools filtered to what Mode permits listing
// (every tool is listable; Mode only gates execution).
func (o *Orchestrator) Tools() []Tool {
	out := make([]Tool, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.tools[name])
	}
	return out
}

// FilterTools returns the subset of registered tool names visible under the
// given set of names (used to scope a subagent's toolset).
func (o *Orchestrator) FilterTools(allow []string) []Tool {
	set := map[string]bool{}
	for _, n := range allow {
		set[n] = true
	}
	out := make([]Tool, 0, len(allow))
	for _, name := range o.order {
		if set[name] {
			out = append(out, o.tools[name])
		}
	}
	return out
}

// Call runs the full six-step pipeline for one tool invocation:
//  1. resolve tool (local registry, else MCP fallback)
//  2. run pre-hooks (may block or short-circuit)
//  3. check permission (may need approval)
//  4. ask approver if needed
//  5. execute
//  6. run post-hooks
func (o *Orchestrator) Call(ctx context.Context, toolName string, args map[string]any, argsRaw []byte, tctx *Context) (Result, error) {
	toolName = SanitizeToolName(toolName)

	t, ok := o.tools[toolName]
	if !ok {
		// MCP tools are considered pre-vetted by the operator: they bypass
		// the permission matrix and hook pipeline entirely.
		if o.mcpCall != nil {
			return o.mcpCall(ctx, toolName, args)
		}
		return Result{IsError: true, Content: fmt.Sprintf("unknown tool: %s", toolName)}, nil
	}

	preRes, err := o.hooks.RunPre(ctx, toolName, args, tctx)
	if err != nil {
		return Result{}, err
	}
	switch preRes.Decision {
	case HookBlock:
		return Result{IsError: true, Content: preRes.Message}, nil
	case HookModified:
		return Result{Content: preRes.Content}, nil
	}

	status := o.matrix.Check(t, args)
	switch status {
	case Denied:
		if o.matrix.ModeNow() == ModeRead {
			return Result{IsError: true, Content: fmt.Sprintf("Mutations are blocked in Read mode (tool %q)", toolName)}, nil
		}
		return Result{IsError: true, Content: fmt.Sprintf("tool %q is not permitted in the current mode", toolName)}, nil
	case NeedsApproval:
		if o.matrix.Approver == nil {
			return Result{IsError: true, Content: fmt.Sprintf("tool %q requires approval but no approver is configured", toolName)}, nil
		}
		summary := summarizeCall(toolName, args)
		decision, err := o.matrix.Approver(ctx, ApprovalRequest{ToolName: toolName, Summary: summary, Args: args})
		if err != nil {
			return Result{}, err
		}
		if decision == ApprovalDeny {
			return Result{IsError: true, Content: fmt.Sprintf("user declined to run %q", toolName)}, nil
		}
		o.recordApproval(toolName, args, decision)
	}

	if err := ctx.Err(); err != nil {
		return Result{IsError: true, Content: "cancelled"}, nil
	}

	log.Debug().Str("tool", toolName).Msg("executing tool call")
	result, err := t.Execute(ctx, argsRaw, tctx)
	if err != nil {
		if terr, ok := err.(*Error); ok {
			return Result{IsError: true, Content: terr.Msg}, nil
		}
		return Result{IsError: true, Content: err.Error()}, nil
	}

	return o.hooks.RunPost(ctx, toolName, args, result, tctx)
}

// recordApproval widens the allow-list when the operator approved beyond a
// one-off: bash approvals record the exact command, everything else the
// tool name.
func (o *Orchestrator) recordApproval(toolName string, args map[string]any, decision ApprovalDecision) {
	if decision != ApprovalSession && decision != ApprovalAlways {
		return
	}
	if toolName == "bash" {
		cmd, _ := args["command"].(string)
		if cmd == "" {
			return
		}
		if decision == ApprovalAlways {
			o.matrix.AllowCommandPermanently(cmd)
		} else {
			o.matrix.AllowCommandSession(cmd)
		}
		return
	}
	if decision == ApprovalAlways {
		o.matrix.AllowToolPermanently(toolName)
	} else {
		o.matrix.AllowToolSession(toolName)
	}
}

// Matrix exposes the permission matrix so a consumer can toggle modes,
// seed permanent allow-lists, or attach the persistence hook.
func (o *Orchestrator) Matrix() *Matrix {
	return o.matrix
}

func summarizeCall(toolName string, args map[string]any) string {
	switch toolName {
	case "bash":
		if cmd, ok := args["command"].(string); ok {
			return fmt.Sprintf("run: %s", cmd)
		}
	case "write", "edit":
		if p, ok := args["file_path"].(string); ok {
			return fmt.Sprintf("%s %s", toolName, p)
		}
	}
	return toolName
}

// WithBuiltins builds an orchestrator for the given mode, wiring an
// allow-list-aware bash permission matrix, and registers builtins onto it.
func WithBuiltins(mode Mode, approver ApprovalHandler, builtins Builtins) *Orchestrator {
	o := NewOrchestrator(NewMatrix(mode, approver), NewRegistry())
	builtins.RegisterAll(o)
	return o
}
