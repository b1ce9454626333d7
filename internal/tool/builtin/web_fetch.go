package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sacenox/ion/internal/store"
	"github.com/sacenox/ion/internal/tool"
)

const defaultFetchMaxChars = 100_000

var webFetchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"url": {"type": "string", "description": "The URL to fetch"},
		"max_length": {"type": "integer", "description": "Maximum response length in characters (default: 100000)"}
	},
	"required": ["url"]
}`)

// WebFetch retrieves a URL's body, stripping HTML markup down to text, and
// caches results in the shared SQLite web cache.
type WebFetch struct {
	Cache *store.Cache
}

func (WebFetch) Name() string                  { return "web_fetch" }
func (WebFetch) Description() string           { return "Fetch content from a URL. Returns the response body as text." }
func (WebFetch) Parameters() json.RawMessage   { return webFetchParams }
func (WebFetch) DangerLevel() tool.DangerLevel { return tool.Restricted }

func (w WebFetch) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	rawURL, err := argString(args, "url")
	if err != nil {
		return tool.Result{}, err
	}
	maxLength := defaultFetchMaxChars
	if v := argIntPtr(args, "max_length"); v != nil && *v > 0 {
		maxLength = *v
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tool.Result{}, tool.NewInvalidArgs("Invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return tool.Result{}, tool.NewInvalidArgs("Unsupported URL scheme: %s. Only http and https are allowed.", parsed.Scheme)
	}

	if w.Cache != nil {
		if cached, ok := w.Cache.GetFetch(rawURL); ok {
			text, truncated := truncateRunes(cached, maxLength)
			if truncated {
				text += fmt.Sprintf("\n\n[Truncated: %d chars total]", len([]rune(cached)))
			}
			return tool.Result{Content: text}, nil
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Bad URL: %v", err)
	}
	req.Header.Set("User-Agent", "ion/0.0.0")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Request failed: %v", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 {
		return tool.Result{
			IsError: true,
			Content: fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Metadata: map[string]any{"status": resp.StatusCode, "content_type": contentType},
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("Failed to read response: %v", err)
	}

	var text string
	if strings.Contains(contentType, "text/html") {
		text = extractText(body)
	} else {
		text = string(body)
	}

	if w.Cache != nil {
		w.Cache.SetFetch(rawURL, text)
	}

	out, truncated := truncateRunes(text, maxLength)
	if truncated {
		out += fmt.Sprintf("\n\n[Truncated: %d chars total]", len([]rune(text)))
	}

	return tool.Result{
		Content:  out,
		Metadata: map[string]any{"status": resp.StatusCode, "content_type": contentType, "length": len(body), "truncated": truncated},
	}, nil
}
