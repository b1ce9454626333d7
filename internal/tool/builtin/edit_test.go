package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sacenox/ion/internal/tool"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func editArgs(path, old, new string, replaceAll bool) json.RawMessage {
	args := map[string]any{
		"file_path":  path,
		"old_string": old,
		"new_string": new,
	}
	if replaceAll {
		args["replace_all"] = true
	}
	b, _ := json.Marshal(args)
	return b
}

func TestEditUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello world\n")
	tctx := &tool.Context{WorkingDir: dir}

	res, err := Edit{}.Execute(context.Background(), editArgs(path, "world", "there", false), tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "diff") {
		t.Fatalf("expected a diff in the result, got %q", res.Content)
	}

	b, _ := os.ReadFile(path)
	if string(b) != "hello there\n" {
		t.Fatalf("file content = %q", b)
	}
}

func TestEditMultipleMatchesRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "foo bar foo\n")
	tctx := &tool.Context{WorkingDir: dir}

	_, err := Edit{}.Execute(context.Background(), editArgs(path, "foo", "baz", false), tctx)
	if err == nil {
		t.Fatal("expected InvalidArgs for ambiguous match")
	}
	var terr *tool.Error
	if !errors.As(err, &terr) || terr.Kind != tool.InvalidArgs {
		t.Fatalf("expected InvalidArgs, got %v", err)
	}
	if !strings.Contains(err.Error(), "appears 2 times") {
		t.Fatalf("error message = %q", err)
	}

	b, _ := os.ReadFile(path)
	if string(b) != "foo bar foo\n" {
		t.Fatal("file must not change on a rejected edit")
	}
}

func TestEditReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "foo bar foo\n")
	tctx := &tool.Context{WorkingDir: dir}

	res, err := Edit{}.Execute(context.Background(), editArgs(path, "foo", "baz", true), tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "2 occurrences") {
		t.Fatalf("expected occurrence count, got %q", res.Content)
	}

	b, _ := os.ReadFile(path)
	if string(b) != "baz bar baz\n" {
		t.Fatalf("file content = %q", b)
	}
}

func TestEditValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "content\n")
	tctx := &tool.Context{WorkingDir: dir}

	cases := []struct {
		name string
		old  string
		new  string
	}{
		{"equal strings", "content", "content"},
		{"empty old_string", "", "x"},
		{"not found", "missing text", "x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Edit{}.Execute(context.Background(), editArgs(path, c.old, c.new, false), tctx)
			var terr *tool.Error
			if !errors.As(err, &terr) || terr.Kind != tool.InvalidArgs {
				t.Fatalf("expected InvalidArgs, got %v", err)
			}
		})
	}
}

func TestReadOutsideSandbox(t *testing.T) {
	dir := t.TempDir()
	tctx := &tool.Context{WorkingDir: dir}

	raw, _ := json.Marshal(map[string]any{"file_path": "/etc/passwd"})
	_, err := Read{}.Execute(context.Background(), raw, tctx)
	if err == nil {
		t.Fatal("expected sandbox rejection")
	}
	var terr *tool.Error
	if !errors.As(err, &terr) || terr.Kind != tool.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "outside the sandbox") {
		t.Fatalf("error message = %q", err)
	}
}

func TestReadWithOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "lines.txt", "one\ntwo\nthree\nfour\nfive\n")
	tctx := &tool.Context{WorkingDir: dir}

	raw, _ := json.Marshal(map[string]any{"file_path": path, "offset": 1, "limit": 2})
	res, err := Read{}.Execute(context.Background(), raw, tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(res.Content, "two\nthree") {
		t.Fatalf("unexpected window: %q", res.Content)
	}
	if !strings.Contains(res.Content, "Use offset/limit for more") {
		t.Fatalf("expected truncation marker: %q", res.Content)
	}
}

func TestWriteCreatesFileWithDiffOnOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")
	tctx := &tool.Context{WorkingDir: dir}

	raw, _ := json.Marshal(map[string]any{"file_path": path, "content": "first\n"})
	res, err := Write{}.Execute(context.Background(), raw, tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "Created") {
		t.Fatalf("expected creation message, got %q", res.Content)
	}

	raw, _ = json.Marshal(map[string]any{"file_path": path, "content": "second\n"})
	res, err = Write{}.Execute(context.Background(), raw, tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "-first") || !strings.Contains(res.Content, "+second") {
		t.Fatalf("expected unified diff, got %q", res.Content)
	}

	raw, _ = json.Marshal(map[string]any{"file_path": path, "content": "second\n"})
	res, err = Write{}.Execute(context.Background(), raw, tctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "no changes") {
		t.Fatalf("expected no-changes message, got %q", res.Content)
	}
}

func TestGlobMatching(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "sub/main.go", false},
		{"**/*.go", "sub/deep/main.go", true},
		{"**/*.go", "main.go", true},
		{"src/*.ts", "src/app.ts", true},
		{"src/*.ts", "src/deep/app.ts", false},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.path); got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestUnwrapDDGRedirect(t *testing.T) {
	cases := []struct{ in, want string }{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=abc", "https://example.com/page"},
		{"https://example.com/direct", "https://example.com/direct"},
	}
	for _, c := range cases {
		if got := unwrapDDGRedirect(c.in); got != c.want {
			t.Errorf("unwrapDDGRedirect(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
