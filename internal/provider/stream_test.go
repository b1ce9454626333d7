package provider

import (
	"context"
	"strings"
	"testing"
)

// collect runs a parser goroutine-side and gathers every event it emits.
func collect(t *testing.T, parse func(ctx context.Context, ch chan<- StreamEvent)) []StreamEvent {
	t.Helper()
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		parse(context.Background(), ch)
	}()
	var out []StreamEvent
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func textOf(events []StreamEvent) string {
	var b strings.Builder
	for _, e := range events {
		if e.Type == EventContentDelta {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

func argsOf(events []StreamEvent, index int) string {
	var b strings.Builder
	for _, e := range events {
		if e.Type == EventToolCallDelta && e.ToolCallIndex == index {
			b.WriteString(e.ToolCallArgs)
		}
	}
	return b.String()
}

func lastType(events []StreamEvent) StreamEventType {
	if len(events) == 0 {
		return EventError
	}
	return events[len(events)-1].Type
}

func TestParseSSEStreamTextAndUsage(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo!"}}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseSSEStream(ctx, strings.NewReader(body), ch)
	})

	if got := textOf(events); got != "Hello!" {
		t.Fatalf("text = %q", got)
	}
	var usage *StreamEvent
	for i := range events {
		if events[i].Type == EventUsage {
			usage = &events[i]
		}
	}
	if usage == nil || usage.InputTokens != 12 || usage.OutputTokens != 5 {
		t.Fatalf("usage event missing or wrong: %+v", usage)
	}
	if lastType(events) != EventDone {
		t.Fatalf("expected trailing EventDone, got %v", lastType(events))
	}
}

func TestParseSSEStreamToolCallFragments(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read","arguments":""}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"file_path\":"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"./x.txt\"}"}}]}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseSSEStream(ctx, strings.NewReader(body), ch)
	})

	var begin *StreamEvent
	for i := range events {
		if events[i].Type == EventToolCallBegin {
			begin = &events[i]
		}
	}
	if begin == nil || begin.ToolCallID != "call_1" || begin.ToolCallName != "read" {
		t.Fatalf("begin event missing or wrong: %+v", begin)
	}
	if got := argsOf(events, 0); got != `{"file_path":"./x.txt"}` {
		t.Fatalf("reassembled args = %q", got)
	}
}

func TestParseAnthropicSSEStream(t *testing.T) {
	body := strings.Join([]string{
		`event: message_start`,
		`data: {"message":{"usage":{"input_tokens":30,"output_tokens":1}}}`,
		``,
		`event: content_block_start`,
		`data: {"index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"index":0,"delta":{"type":"text_delta","text":"thinking about it... "}}`,
		``,
		`event: content_block_start`,
		`data: {"index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"edit"}}`,
		``,
		`event: content_block_delta`,
		`data: {"index":1,"delta":{"type":"input_json_delta","partial_json":"{\"file_path\""}}`,
		``,
		`event: content_block_delta`,
		`data: {"index":1,"delta":{"type":"input_json_delta","partial_json":":\"a.go\"}"}}`,
		``,
		`event: message_delta`,
		`data: {"usage":{"output_tokens":42}}`,
		``,
		`event: message_stop`,
		`data: {}`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseAnthropicSSEStream(ctx, strings.NewReader(body), ch)
	})

	if got := textOf(events); got != "thinking about it... " {
		t.Fatalf("text = %q", got)
	}
	var begin *StreamEvent
	for i := range events {
		if events[i].Type == EventToolCallBegin {
			begin = &events[i]
		}
	}
	// The tool_use block is at Anthropic index 1 but must map to tool call
	// index 0, since the text block before it is not a tool call.
	if begin == nil || begin.ToolCallIndex != 0 || begin.ToolCallID != "toolu_1" || begin.ToolCallName != "edit" {
		t.Fatalf("begin event missing or wrong: %+v", begin)
	}
	if got := argsOf(events, 0); got != `{"file_path":"a.go"}` {
		t.Fatalf("reassembled args = %q", got)
	}
	if lastType(events) != EventDone {
		t.Fatalf("expected trailing EventDone, got %v", lastType(events))
	}
}

func TestParseResponsesSSEStream(t *testing.T) {
	body := strings.Join([]string{
		`event: response.output_item.added`,
		`data: {"output_index":0,"item":{"type":"function_call","name":"bash","call_id":"fc_1"}}`,
		``,
		`event: response.function_call_arguments.delta`,
		`data: {"output_index":0,"delta":"{\"command\":"}`,
		``,
		`event: response.function_call_arguments.delta`,
		`data: {"output_index":0,"delta":"\"ls\"}"}`,
		``,
		`event: response.output_text.delta`,
		`data: {"delta":"running it"}`,
		``,
		`event: response.completed`,
		`data: {"response":{"usage":{"input_tokens":7,"output_tokens":2}}}`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseResponsesSSEStream(ctx, strings.NewReader(body), ch)
	})

	var begin *StreamEvent
	for i := range events {
		if events[i].Type == EventToolCallBegin {
			begin = &events[i]
		}
	}
	if begin == nil || begin.ToolCallID != "fc_1" || begin.ToolCallName != "bash" {
		t.Fatalf("begin event missing or wrong: %+v", begin)
	}
	if got := argsOf(events, 0); got != `{"command":"ls"}` {
		t.Fatalf("reassembled args = %q", got)
	}
	if got := textOf(events); got != "running it" {
		t.Fatalf("text = %q", got)
	}
	if lastType(events) != EventDone {
		t.Fatalf("expected trailing EventDone, got %v", lastType(events))
	}
}

func TestParseResponsesSSEStreamFailure(t *testing.T) {
	body := strings.Join([]string{
		`event: response.failed`,
		`data: {"response":{"error":{"code":"rate_limit_exceeded","message":"slow down"}}}`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseResponsesSSEStream(ctx, strings.NewReader(body), ch)
	})

	if lastType(events) != EventError {
		t.Fatalf("expected EventError, got %v", lastType(events))
	}
	errEvt := events[len(events)-1]
	if errEvt.Err == nil || !strings.Contains(errEvt.Err.Error(), "rate_limit_exceeded") {
		t.Fatalf("error event = %+v", errEvt)
	}
}

func TestParseGeminiSSEStream(t *testing.T) {
	body := strings.Join([]string{
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"Sure, "}]}}]}}`,
		``,
		`data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"grep","args":{"pattern":"TODO"}}}]}}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":4}}}`,
		``,
	}, "\n")

	events := collect(t, func(ctx context.Context, ch chan<- StreamEvent) {
		parseGeminiSSEStream(ctx, strings.NewReader(body), ch)
	})

	if got := textOf(events); got != "Sure, " {
		t.Fatalf("text = %q", got)
	}
	var begin *StreamEvent
	for i := range events {
		if events[i].Type == EventToolCallBegin {
			begin = &events[i]
		}
	}
	if begin == nil || begin.ToolCallName != "grep" {
		t.Fatalf("begin event missing or wrong: %+v", begin)
	}
	if got := argsOf(events, 0); got != `{"pattern":"TODO"}` {
		t.Fatalf("args = %q", got)
	}
	if lastType(events) != EventDone {
		t.Fatalf("expected trailing EventDone, got %v", lastType(events))
	}
}

func TestToAnthropicMessagesHoistsSystem(t *testing.T) {
	system, msgs := toAnthropicMessages([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "t1", Name: "read", Arguments: []byte(`{"file_path":"x"}`)}}},
		{Role: "tool", Content: "data", ToolCallID: "t1"},
	})

	if len(system) != 1 || system[0].Text != "be terse" {
		t.Fatalf("system blocks = %+v", system)
	}
	if system[0].CacheControl == nil {
		t.Fatal("last system block should carry cache_control")
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 non-system messages, got %d", len(msgs))
	}
	// Tool results become user-role tool_result blocks.
	if msgs[2].Role != "user" {
		t.Fatalf("tool result message role = %q", msgs[2].Role)
	}
}

func TestToAnthropicMessagesMergesConsecutiveToolResults(t *testing.T) {
	_, msgs := toAnthropicMessages([]Message{
		{Role: "user", Content: "do two things"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "c1", Name: "read", Arguments: []byte(`{}`)},
			{ID: "c2", Name: "grep", Arguments: []byte(`{}`)},
		}},
		{Role: "user", Content: "also delete foo"},
		{Role: "tool", Content: "r1", ToolCallID: "c1"},
		{Role: "tool", Content: "r2", ToolCallID: "c2"},
	})

	// Strict alternation: user, assistant, then one merged user message.
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after merging, got %d: %+v", len(msgs), msgs)
	}
	for i, want := range []string{"user", "assistant", "user"} {
		if msgs[i].Role != want {
			t.Fatalf("message %d role = %q, want %q", i, msgs[i].Role, want)
		}
	}

	blocks, ok := msgs[2].Content.([]interface{})
	if !ok || len(blocks) != 3 {
		t.Fatalf("merged user message blocks = %#v", msgs[2].Content)
	}
	// tool_result blocks lead, in call order; steering text follows.
	first, ok := blocks[0].(anthropicToolResultBlock)
	if !ok || first.ToolUseID != "c1" {
		t.Fatalf("block 0 = %#v", blocks[0])
	}
	second, ok := blocks[1].(anthropicToolResultBlock)
	if !ok || second.ToolUseID != "c2" {
		t.Fatalf("block 1 = %#v", blocks[1])
	}
	text, ok := blocks[2].(anthropicTextBlock)
	if !ok || text.Text != "also delete foo" {
		t.Fatalf("block 2 = %#v", blocks[2])
	}
}

func TestToGeminiContentsMergesConsecutiveToolResults(t *testing.T) {
	contents := toGeminiContents([]Message{
		{Role: "user", Content: "do two things"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "c1", Name: "read", Arguments: []byte(`{}`)},
			{ID: "c2", Name: "grep", Arguments: []byte(`{}`)},
		}},
		{Role: "user", Content: "also delete foo"},
		{Role: "tool", Content: "r1", ToolCallID: "c1", FunctionName: "read"},
		{Role: "tool", Content: "r2", ToolCallID: "c2", FunctionName: "grep"},
	})

	if len(contents) != 3 {
		t.Fatalf("expected 3 contents after merging, got %d: %+v", len(contents), contents)
	}
	for i, want := range []string{"user", "model", "user"} {
		if contents[i].Role != want {
			t.Fatalf("content %d role = %q, want %q", i, contents[i].Role, want)
		}
	}

	parts := contents[2].Parts
	if len(parts) != 3 {
		t.Fatalf("merged user content parts = %+v", parts)
	}
	if parts[0].FunctionResponse == nil || parts[0].FunctionResponse.Name != "read" {
		t.Fatalf("part 0 = %+v", parts[0])
	}
	if parts[1].FunctionResponse == nil || parts[1].FunctionResponse.Name != "grep" {
		t.Fatalf("part 1 = %+v", parts[1])
	}
	if parts[2].Text != "also delete foo" {
		t.Fatalf("part 2 = %+v", parts[2])
	}
}

func TestToResponsesInputMapsRoles(t *testing.T) {
	items := toResponsesInput([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "bash", Arguments: []byte(`{}`)}}},
		{Role: "tool", Content: "out", ToolCallID: "c1"},
	})

	if items[0].Role != "developer" {
		t.Fatalf("system should map to developer role, got %q", items[0].Role)
	}
	if items[2].Type != "function_call" || items[2].CallID != "c1" {
		t.Fatalf("tool call item = %+v", items[2])
	}
	if items[3].Type != "function_call_output" || items[3].Output != "out" {
		t.Fatalf("tool result item = %+v", items[3])
	}
}
