package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sacenox/ion/internal/provider"
)

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)

	msgs := []SessionMessage{
		{Role: "system", Content: "you are helpful"},
		{Role: "user", Content: "read x.txt"},
		{Role: "assistant", Content: "", ToolCalls: json.RawMessage(`[{"id":"c1","name":"read","arguments":{"file_path":"x.txt"}}]`)},
		{Role: "tool", Content: "hello\n", ToolCallID: "c1", FunctionName: "read"},
		{Role: "assistant", Content: "done", InputTokens: 10, OutputTokens: 3},
	}
	sess := Session{ID: "01TEST", WorkingDir: "/tmp/repo", Model: "mock"}
	if err := c.Save(sess, msgs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, gotMsgs, err := c.Load("01TEST")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WorkingDir != "/tmp/repo" || got.Model != "mock" {
		t.Fatalf("unexpected session row: %+v", got)
	}
	if len(gotMsgs) != len(msgs) {
		t.Fatalf("got %d messages, want %d", len(gotMsgs), len(msgs))
	}
	if gotMsgs[3].Role != "tool" || gotMsgs[3].ToolCallID != "c1" || gotMsgs[3].Content != "hello\n" {
		t.Fatalf("tool result message mangled: %+v", gotMsgs[3])
	}
	if gotMsgs[4].InputTokens != 10 || gotMsgs[4].OutputTokens != 3 {
		t.Fatalf("token counts lost: %+v", gotMsgs[4])
	}
}

func TestSessionSaveIsUpsert(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)
	sess := Session{ID: "01UP", WorkingDir: "/a", Model: "m"}

	if err := c.Save(sess, []SessionMessage{{Role: "user", Content: "one"}}); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(sess, []SessionMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
	}); err != nil {
		t.Fatal(err)
	}

	_, msgs, err := c.Load("01UP")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected rewritten history of 2 messages, got %d", len(msgs))
	}
}

func TestEmptySessionNotPersisted(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)
	sess := Session{ID: "01EMPTY", WorkingDir: "/a", Model: "m"}

	// Only a system prompt, no user message: must not be written.
	if err := c.Save(sess, []SessionMessage{{Role: "system", Content: "prompt"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, _, err := c.Load("01EMPTY"); err == nil {
		t.Fatal("empty session must not be persisted")
	}
}

func TestLoadMissingSession(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)
	if _, _, err := c.Load("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestListRecentOrderAndDirFilter(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)

	for _, s := range []struct{ id, dir string }{
		{"01A", "/repo/a"},
		{"01B", "/repo/b"},
		{"01C", "/repo/a"},
	} {
		if err := c.Save(Session{ID: s.id, WorkingDir: s.dir, Model: "m"},
			[]SessionMessage{{Role: "user", Content: "hi from " + s.id}}); err != nil {
			t.Fatal(err)
		}
	}
	// Separate the updated timestamps; Save stamps them with the same
	// wall-clock second otherwise.
	for i, id := range []string{"01A", "01B", "01C"} {
		if _, err := c.db.Exec("UPDATE sessions SET updated = ? WHERE id = ?", 1000+i, id); err != nil {
			t.Fatal(err)
		}
	}

	all, err := c.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "01C" || all[2].ID != "01A" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].FirstUserMessage != "hi from 01C" {
		t.Fatalf("first user message = %q", all[0].FirstUserMessage)
	}

	forA, err := c.ListRecentForDir("/repo/a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(forA) != 2 {
		t.Fatalf("expected 2 sessions for /repo/a, got %d", len(forA))
	}
	for _, s := range forA {
		if s.WorkingDir != "/repo/a" {
			t.Fatalf("dir filter leaked: %+v", s)
		}
	}

	limited, err := c.ListRecent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "01C" {
		t.Fatalf("limit not honoured: %+v", limited)
	}
}

func TestInputHistoryDedupAndOrder(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)

	for _, line := range []string{"first", "second", "second", "third", "first"} {
		if err := c.AddInputHistory(line); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.LoadInputHistory()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third", "first"}
	if !sliceEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestInputHistorySkipsBlank(t *testing.T) {
	c := openTestCache(t, 24*time.Hour)
	if err := c.AddInputHistory("   "); err != nil {
		t.Fatal(err)
	}
	got, err := c.LoadInputHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("blank lines must not be recorded: %v", got)
	}
}

func TestProviderMessageRoundTrip(t *testing.T) {
	in := []provider.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []provider.ToolCall{{ID: "c1", Name: "read", Arguments: json.RawMessage(`{"file_path":"x"}`)}}},
		{Role: "tool", Content: "data", ToolCallID: "c1", FunctionName: "read"},
	}

	out := ToProviderMessages(FromProviderMessages(in))
	if len(out) != len(in) {
		t.Fatalf("got %d messages, want %d", len(out), len(in))
	}
	if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].ID != "c1" {
		t.Fatalf("tool calls lost: %+v", out[1])
	}
	if string(out[1].ToolCalls[0].Arguments) != `{"file_path":"x"}` {
		t.Fatalf("arguments mangled: %s", out[1].ToolCalls[0].Arguments)
	}
	if out[2].ToolCallID != "c1" || out[2].FunctionName != "read" {
		t.Fatalf("tool result fields lost: %+v", out[2])
	}
}
