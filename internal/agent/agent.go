package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sacenox/ion/internal/provider"
	"github.com/sacenox/ion/internal/tool"
	"golang.org/x/sync/errgroup"
)

// defaultMaxRounds bounds how many provider round-trips a single RunTask
// call makes before forcing a final, tools-free summary response.
const defaultMaxRounds = 60

// reminderInterval is how many tool rounds pass between task-recitation
// reminders. Long tool-call chains drift; restating the task pulls the
// model back without costing a separate message slot.
const reminderInterval = 10

// repeatedCallLimit is how many identical consecutive tool calls trigger a
// loop warning.
const repeatedCallLimit = 3

// RunTaskOptions configures one call to RunTask.
type RunTaskOptions struct {
	Provider     provider.Provider
	Orchestrator *tool.Orchestrator

	WorkingDir string
	NoSandbox  bool

	// UserInput, if non-empty, is appended to the session as a new user
	// message before the turn starts. Leave empty to resume a turn after
	// a steering message was queued mid-flight.
	UserInput string

	// OnEvent receives every AgentEvent as the turn progresses. May be nil.
	OnEvent func(AgentEvent)

	MaxRounds     int
	ContextWindow int
}

// RunTask drives one turn to completion: it streams a provider response,
// executes any tool calls the model requested, feeds the results back, and
// repeats until the model replies with no further tool calls (or the round
// limit or a cancellation ends things early).
func RunTask(ctx context.Context, sess *Session, opts RunTaskOptions) error {
	turnCtx, cancel := context.WithCancel(ctx)
	sess.installCancel(cancel)
	defer cancel()

	maxRounds := opts.MaxRounds
	if maxRounds == 0 {
		maxRounds = defaultMaxRounds
	}

	emit := func(e AgentEvent) {
		if opts.OnEvent != nil {
			opts.OnEvent(e)
		}
	}

	if strings.TrimSpace(opts.UserInput) != "" {
		sess.appendMessage(provider.Message{Role: "user", Content: opts.UserInput, CreatedAt: time.Now()})
	}

	tctx := &tool.Context{WorkingDir: opts.WorkingDir, SessionID: sess.ID, NoSandbox: opts.NoSandbox}
	providerTools := toProviderTools(opts.Orchestrator.Tools())

	var lastCallSig string
	repeatedCalls := 0
	retriedEmpty := false

	for round := 0; round < maxRounds; round++ {
		if needsCompaction(sess.Snapshot(), opts.ContextWindow) {
			runCompaction(turnCtx, opts.Provider, sess, emit)
		}

		resp, err := streamRoundWithRetry(turnCtx, opts.Provider, sess, providerTools, emit)
		if err != nil {
			if turnCtx.Err() != nil {
				finalizeCancelledRound(sess, resp)
				emit(AgentEvent{Type: EventDone})
				return turnCtx.Err()
			}
			emit(AgentEvent{Type: EventError, Err: err})
			return err
		}

		if resp.Content == "" && resp.Reasoning == "" && len(resp.ToolCalls) == 0 && !retriedEmpty {
			// Some backends occasionally deliver a zero-event stream; one
			// re-issue of the same request clears it far more often than not.
			retriedEmpty = true
			continue
		}

		sess.appendMessage(provider.Message{
			Role:         "assistant",
			Content:      resp.Content,
			Reasoning:    resp.Reasoning,
			ToolCalls:    resp.ToolCalls,
			CreatedAt:    time.Now(),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		})
		if resp.InputTokens > 0 || resp.OutputTokens > 0 {
			emit(AgentEvent{Type: EventUsage, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens})
		}

		if len(resp.ToolCalls) == 0 {
			emit(AgentEvent{Type: EventDone})
			return nil
		}

		compactRequested := false
		for _, tc := range resp.ToolCalls {
			if tool.SanitizeToolName(tc.Name) == "compact" {
				compactRequested = true
			}
		}

		results := executeToolCallsConcurrently(turnCtx, opts.Orchestrator, resp.ToolCalls, tctx, emit)

		// Steering messages land between the assistant's tool-call message
		// (already appended above) and the tool-result message(s) appended
		// below, never in the middle of the results themselves.
		for _, q := range sess.Queue.DrainAll() {
			sess.appendMessage(provider.Message{Role: "user", Content: q, CreatedAt: time.Now()})
		}

		for _, r := range results {
			sess.appendMessage(r)
		}

		if sig := callSignature(resp.ToolCalls); sig == lastCallSig {
			repeatedCalls++
		} else {
			lastCallSig = sig
			repeatedCalls = 1
		}
		switch {
		case repeatedCalls >= repeatedCallLimit:
			sess.appendToLastMessage("<system-reminder>\nYou have issued the same tool call " +
				"several times in a row. Its result is not going to change. Step back, " +
				"reconsider the approach, and either try something different or report what is blocking you.\n</system-reminder>")
			repeatedCalls = 0
		case (round+1)%reminderInterval == 0:
			sess.appendToLastMessage("<system-reminder>\nReminder of the original task:\n\n" +
				opts.UserInput + "\n\nStay focused on completing it; avoid unrelated detours.\n</system-reminder>")
		}

		if compactRequested {
			runCompaction(turnCtx, opts.Provider, sess, emit)
		}

		if turnCtx.Err() != nil {
			emit(AgentEvent{Type: EventDone})
			return turnCtx.Err()
		}
	}

	sess.appendMessage(provider.Message{
		Role:      "user",
		Content:   "You have exhausted your tool call limit for this turn. Respond in text only. Summarize what you accomplished and what remains.",
		CreatedAt: time.Now(),
	})
	resp, err := streamRoundWithRetry(turnCtx, opts.Provider, sess, nil, emit)
	if err != nil {
		emit(AgentEvent{Type: EventError, Err: err})
		return err
	}
	sess.appendMessage(provider.Message{
		Role:         "assistant",
		Content:      resp.Content,
		Reasoning:    resp.Reasoning,
		CreatedAt:    time.Now(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	emit(AgentEvent{Type: EventDone})
	return nil
}

func runCompaction(ctx context.Context, prov provider.Provider, sess *Session, emit func(AgentEvent)) {
	summarized, err := compact(ctx, prov, sess.Snapshot())
	if err != nil {
		log.Warn().Err(err).Msg("agent: compaction failed, continuing with full history")
		return
	}
	sess.replaceMessages(summarized)
	emit(AgentEvent{Type: EventCompacted})
}

// streamRoundWithRetry runs one provider round-trip, retrying transient
// failures with class-aware backoff (rate limits back off longest, auth
// failures get one immediate retry so an OAuth-backed provider can
// re-resolve a refreshed token) and surfacing each attempt as an EventRetry
// so the caller can show progress instead of going silent.
func streamRoundWithRetry(ctx context.Context, prov provider.Provider, sess *Session, tools []provider.Tool, emit func(AgentEvent)) (*provider.ChatResponse, error) {
	var lastResp *provider.ChatResponse

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return lastResp, ctx.Err()
		}

		stream, err := prov.ChatStream(ctx, sess.Snapshot(), tools)
		if err == nil {
			resp, cerr := collectStream(ctx, stream, emit)
			if cerr == nil {
				if ctx.Err() != nil {
					return resp, ctx.Err()
				}
				return resp, nil
			}
			lastResp = resp
			err = cerr
		}

		if ctx.Err() != nil {
			return lastResp, ctx.Err()
		}

		class := classifyError(err)
		if !isRetryable(class) || attempt+1 >= maxAttemptsFor(class) {
			return lastResp, err
		}

		delay := retryDelayFor(attempt)
		if class == classAuth {
			// The refresh happens inside the provider's next token lookup;
			// waiting would add nothing.
			delay = 0
		}
		emit(AgentEvent{Type: EventRetry, RetryAttempt: attempt + 1, RetryDelay: delay, RetryReason: err.Error()})

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastResp, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// executeToolCallsConcurrently dispatches every tool call through the
// orchestrator at once via an errgroup, preserving the original call order
// in the returned message slice regardless of completion order (invariant:
// tool results appear in the same order as the calls that produced them).
func executeToolCallsConcurrently(ctx context.Context, orch *tool.Orchestrator, calls []provider.ToolCall, tctx *tool.Context, emit func(AgentEvent)) []provider.Message {
	msgs := make([]provider.Message, len(calls))
	var g errgroup.Group

	for i, tc := range calls {
		i, tc := i, tc
		g.Go(func() error {
			var args map[string]any
			_ = json.Unmarshal(tc.Arguments, &args)

			result, err := orch.Call(ctx, tc.Name, args, tc.Arguments, tctx)
			if err != nil {
				result = tool.Result{IsError: true, Content: err.Error()}
			}

			emit(AgentEvent{
				Type:         EventToolCallEnd,
				ToolCallID:   tc.ID,
				ToolCallName: tc.Name,
				ToolResult:   result.Content,
				ToolIsError:  result.IsError,
			})

			msgs[i] = provider.Message{
				Role:         "tool",
				Content:      result.Content,
				ToolCallID:   tc.ID,
				FunctionName: tool.SanitizeToolName(tc.Name),
				CreatedAt:    time.Now(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return msgs
}

// finalizeCancelledRound preserves the tool_use/tool_result pairing
// invariant when a turn is cancelled mid-stream: if the model had begun
// emitting tool calls before the cancellation landed, those calls are
// recorded as an assistant message and each one gets a synthetic
// "cancelled" result, so the session stays resumable.
func finalizeCancelledRound(sess *Session, resp *provider.ChatResponse) {
	if resp == nil {
		return
	}
	if len(resp.ToolCalls) == 0 && resp.Content == "" && resp.Reasoning == "" {
		return
	}

	sess.appendMessage(provider.Message{
		Role:      "assistant",
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
		CreatedAt: time.Now(),
	})
	for _, tc := range resp.ToolCalls {
		sess.appendMessage(provider.Message{
			Role:         "tool",
			Content:      "cancelled",
			ToolCallID:   tc.ID,
			FunctionName: tool.SanitizeToolName(tc.Name),
			CreatedAt:    time.Now(),
		})
	}
}

// callSignature fingerprints a round's tool calls by name and arguments so
// the loop can notice the model re-issuing an identical call.
func callSignature(calls []provider.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tc := range calls {
		b.WriteString(tool.SanitizeToolName(tc.Name))
		b.WriteByte('(')
		b.Write(tc.Arguments)
		b.WriteString(");")
	}
	return b.String()
}

func toProviderTools(tools []tool.Tool) []provider.Tool {
	out := make([]provider.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, provider.Tool{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}
