package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/sacenox/ion/internal/store"
	"github.com/sacenox/ion/internal/tool"
)

const (
	ddgSearchEndpoint  = "https://html.duckduckgo.com/html/"
	defaultNumResults  = 5
	maxWebSearchResults = 10
)

var webSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query."},
		"num_results": {"type": "integer", "description": "Number of results to return. Default: 5"}
	},
	"required": ["query"]
}`)

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch queries DuckDuckGo's HTML-only results endpoint and returns a
// formatted result list, cached in the shared SQLite web cache.
type WebSearch struct {
	Cache *store.Cache
}

func (WebSearch) Name() string                  { return "web_search" }
func (WebSearch) Description() string           { return "Search the web via DuckDuckGo. Use this to look up documentation, APIs, libraries, or current information. Cached for 24 hours." }
func (WebSearch) Parameters() json.RawMessage   { return webSearchParams }
func (WebSearch) DangerLevel() tool.DangerLevel { return tool.Restricted }

func (w WebSearch) Execute(ctx context.Context, raw json.RawMessage, tctx *tool.Context) (tool.Result, error) {
	args, err := parseArgs(raw)
	if err != nil {
		return tool.Result{}, err
	}
	query, err := argString(args, "query")
	if err != nil {
		return tool.Result{}, err
	}
	numResults := defaultNumResults
	if v := argIntPtr(args, "num_results"); v != nil && *v > 0 {
		numResults = *v
	}
	if numResults > maxWebSearchResults {
		numResults = maxWebSearchResults
	}

	if w.Cache != nil {
		if cached, ok := w.Cache.GetSearch(query); ok {
			return tool.Result{Content: cached}, nil
		}
		if cached, ok := w.Cache.SearchCachedContent(query); ok {
			return tool.Result{Content: cached}, nil
		}
	}

	results, err := ddgSearch(ctx, query, numResults)
	if err != nil {
		return tool.Result{}, tool.NewExecutionFailed("search failed: %v", err)
	}

	formatted := formatSearchResults(results)
	if w.Cache != nil {
		w.Cache.SetSearch(query, formatted)
	}

	return tool.Result{Content: formatted, Metadata: map[string]any{"count": len(results)}}, nil
}

func ddgSearch(ctx context.Context, query string, numResults int) ([]searchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgSearchEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ion/0.0.0)")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("duckduckgo returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	return parseDDGResults(body, numResults), nil
}

// parseDDGResults walks the DDG HTML results page, pulling each
// result__a anchor (title + redirect URL) and its following snippet text.
func parseDDGResults(body []byte, limit int) []searchResult {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var results []searchResult
	var cur *searchResult
	inResultLink := false
	inSnippet := false

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if len(results) >= limit {
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)
			attrs := map[string]string{}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = tokenizer.TagAttr()
				attrs[string(key)] = string(val)
			}
			class := attrs["class"]
			if tag == "a" && strings.Contains(class, "result__a") {
				inResultLink = true
				results = append(results, searchResult{URL: unwrapDDGRedirect(attrs["href"])})
				cur = &results[len(results)-1]
			}
			if tag == "a" && strings.Contains(class, "result__snippet") {
				inSnippet = true
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "a" {
				inResultLink = false
				inSnippet = false
			}

		case html.TextToken:
			if cur == nil {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if inResultLink {
				cur.Title += text
			} else if inSnippet {
				cur.Snippet += text
			}
		}
	}
	return results
}

// unwrapDDGRedirect recovers the real URL from DDG's "/l/?uddg=<encoded>"
// redirect wrapper.
func unwrapDDGRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if real := u.Query().Get("uddg"); real != "" {
		return real
	}
	return href
}

func formatSearchResults(results []searchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if i < len(results)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
