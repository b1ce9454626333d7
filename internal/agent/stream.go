package agent

import (
	"context"
	"encoding/json"

	"github.com/sacenox/ion/internal/provider"
)

// toolCallAccumulator reassembles a streamed tool call from its Begin/Delta
// events, keyed by the provider's stream index.
type toolCallAccumulator struct {
	byIndex     map[int]int
	calls       []provider.ToolCall
	argBuilders []string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) begin(evt provider.StreamEvent) {
	pos := len(a.calls)
	a.byIndex[evt.ToolCallIndex] = pos
	a.calls = append(a.calls, provider.ToolCall{
		ID:               evt.ToolCallID,
		Name:             evt.ToolCallName,
		ThoughtSignature: evt.ToolCallSignature,
	})
	a.argBuilders = append(a.argBuilders, "")
}

func (a *toolCallAccumulator) delta(evt provider.StreamEvent) {
	if pos, ok := a.byIndex[evt.ToolCallIndex]; ok {
		a.argBuilders[pos] += evt.ToolCallArgs
	}
}

func (a *toolCallAccumulator) finalize() []provider.ToolCall {
	for i := range a.calls {
		if i < len(a.argBuilders) {
			a.calls[i].Arguments = json.RawMessage(a.argBuilders[i])
		}
	}
	return a.calls
}

// collectStream reads every event off ch, forwarding deltas to emit (which
// may be nil, e.g. for the tools-free compaction summary call), and
// assembles the result into a ChatResponse. It returns ctx.Err() as soon as
// ctx is cancelled, along with whatever partial response had accumulated so
// far, so the caller can still account for a dangling tool call.
func collectStream(ctx context.Context, ch <-chan provider.StreamEvent, emit func(AgentEvent)) (*provider.ChatResponse, error) {
	var result provider.ChatResponse
	tca := newToolCallAccumulator()

	for {
		select {
		case <-ctx.Done():
			if calls := tca.finalize(); len(calls) > 0 {
				result.ToolCalls = calls
			}
			return &result, ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				if calls := tca.finalize(); len(calls) > 0 {
					result.ToolCalls = calls
				}
				return &result, nil
			}
			switch evt.Type {
			case provider.EventContentDelta:
				result.Content += evt.Content
				if emit != nil {
					emit(AgentEvent{Type: EventTextDelta, Content: evt.Content})
				}
			case provider.EventReasoningDelta:
				result.Reasoning += evt.Content
				if emit != nil {
					emit(AgentEvent{Type: EventThinkingDelta, Content: evt.Content})
				}
			case provider.EventToolCallBegin:
				tca.begin(evt)
				if emit != nil {
					emit(AgentEvent{Type: EventToolCallStart, ToolCallID: evt.ToolCallID, ToolCallName: evt.ToolCallName})
				}
			case provider.EventToolCallDelta:
				tca.delta(evt)
				if emit != nil {
					emit(AgentEvent{Type: EventToolCallArgsDelta, ToolArgs: evt.ToolCallArgs})
				}
			case provider.EventUsage:
				if evt.InputTokens > result.InputTokens {
					result.InputTokens = evt.InputTokens
				}
				if evt.OutputTokens > result.OutputTokens {
					result.OutputTokens = evt.OutputTokens
				}
			case provider.EventError:
				if calls := tca.finalize(); len(calls) > 0 {
					result.ToolCalls = calls
				}
				return &result, evt.Err
			case provider.EventDone:
			}
		}
	}
}
