package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sacenox/ion/internal/provider"
)

// defaultContextWindow is the token budget assumed when a provider/model
// pair doesn't report one explicitly. It's deliberately conservative so
// compaction triggers before a real 200k-class model would reject the
// request.
const defaultContextWindow = 128_000

// compactionThreshold is the fraction of the context window that triggers
// compaction.
const compactionThreshold = 0.85

// keepRecentMessages is the number of trailing messages compaction always
// keeps verbatim, so the model doesn't lose the immediate thread of the
// conversation.
const keepRecentMessages = 12

// estimateTokens is a coarse, dependency-free estimate (roughly 4 bytes per
// token) used only to decide whether compaction is due, not for billing.
func estimateTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) + len(m.Reasoning)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Arguments)
		}
	}
	return total / 4
}

func needsCompaction(messages []provider.Message, contextWindow int) bool {
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}
	if len(messages) <= keepRecentMessages {
		return false
	}
	return estimateTokens(messages) > int(float64(contextWindow)*compactionThreshold)
}

// safeCutPoint returns the first index >= desired whose message does not
// have role "tool". Starting the kept suffix on anything but a tool-result
// message guarantees every assistant message with tool_calls is summarized
// together with all of its results, never split across the cut (invariant:
// every tool_use has a matching tool_result in the message it appears in).
func safeCutPoint(messages []provider.Message, desired int) int {
	cut := desired
	if cut < 0 {
		cut = 0
	}
	if cut > len(messages) {
		cut = len(messages)
	}
	for cut < len(messages) && messages[cut].Role == "tool" {
		cut++
	}
	return cut
}

// compact summarizes the oldest portion of history via a dedicated,
// tools-free call to the provider and splices the summary in front of the
// kept recent messages.
func compact(ctx context.Context, prov provider.Provider, messages []provider.Message) ([]provider.Message, error) {
	cut := safeCutPoint(messages, len(messages)-keepRecentMessages)
	if cut <= 0 {
		return messages, nil
	}

	var b []provider.Message
	b = append(b, messages[:cut]...)
	b = append(b, provider.Message{
		Role:      "user",
		Content:   "Summarize the conversation above in a few dense paragraphs: what the user asked for, decisions made, files touched, and anything still outstanding. This summary replaces the full transcript, so don't drop load-bearing facts.",
		CreatedAt: time.Now(),
	})

	stream, err := prov.ChatStream(ctx, b, nil)
	if err != nil {
		return nil, fmt.Errorf("compaction summary call: %w", err)
	}
	resp, err := collectStream(ctx, stream, nil)
	if err != nil {
		return nil, fmt.Errorf("compaction summary stream: %w", err)
	}
	if resp.Content == "" {
		return nil, fmt.Errorf("compaction summary call returned no text")
	}

	summary := provider.Message{
		Role:      "user",
		Content:   "<system-reminder>\nSummary of the earlier conversation (older messages were compacted to save context):\n\n" + resp.Content + "\n</system-reminder>",
		CreatedAt: time.Now(),
	}

	out := make([]provider.Message, 0, 1+len(messages)-cut)
	out = append(out, summary)
	out = append(out, messages[cut:]...)
	return out, nil
}
