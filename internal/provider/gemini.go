package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// geminiStreamEndpoint is the Gemini Code Assist streaming endpoint Codex-
// equivalent CLIs (gemini-cli) talk to through a Cloud Code OAuth token,
// as opposed to the plain Generative Language API key endpoint.
const geminiStreamEndpoint = "https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse"

// GeminiProvider talks to Gemini Code Assist directly over the subscription
// OAuth flow, sending google_project_id in the request body rather than the
// header-based auth the other direct providers use. Selected by provider
// config `type = "gemini"`.
type GeminiProvider struct {
	name        string
	baseURL     string
	httpClient  *http.Client
	model       string
	temperature float64

	// tokens resolves the current access token and project id on every
	// request, so a mid-session refresh in the credential store is picked
	// up without rebuilding the provider.
	tokens func() (accessToken, projectID string, err error)
}

// NewGemini creates a direct Gemini Code Assist provider from a fixed token
// pair. accessToken and projectID come from the Google OAuth credential
// store.
func NewGemini(name, endpoint, model, accessToken, projectID string, opts Options) *GeminiProvider {
	return NewGeminiWithSource(name, endpoint, model, func() (string, string, error) {
		return accessToken, projectID, nil
	}, opts)
}

// NewGeminiWithSource creates the provider with a live token source,
// consulted on every request.
func NewGeminiWithSource(name, endpoint, model string, tokens func() (string, string, error), opts Options) *GeminiProvider {
	baseURL := endpoint
	if baseURL == "" {
		baseURL = geminiStreamEndpoint
	}
	return &GeminiProvider{
		name:        name,
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		model:       model,
		temperature: opts.Temperature,
		tokens:      tokens,
	}
}

func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	accessToken, projectID, err := p.tokens()
	if err != nil {
		return nil, err
	}

	system, rest := splitSystem(messages)

	req := geminiCodeAssistRequest{
		Model:   p.model,
		Project: projectID,
		Request: geminiGenerateRequest{
			Contents:          toGeminiContents(rest),
			Tools:             toGeminiTools(tools),
			GenerationConfig:  geminiGenerationConfig{Temperature: p.temperature},
			SystemInstruction: toGeminiSystemInstruction(system),
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL,
		body:     body,
		headers:  map[string]string{"Authorization": "Bearer " + accessToken},
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseGeminiSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]Model, error) {
	// Code Assist model availability is tied to the Cloud project's
	// entitlements, not a public catalog endpoint; models are configured
	// directly by id.
	return nil, nil
}

func (p *GeminiProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// GeminiFactory builds GeminiProvider instances, resolving a (possibly
// just-refreshed) OAuth access token and project id per request.
type GeminiFactory struct {
	name     string
	endpoint string
	tokens   func() (accessToken, projectID string, err error)
}

func NewGeminiFactory(name, endpoint string, tokens func() (string, string, error)) *GeminiFactory {
	return &GeminiFactory{name: name, endpoint: endpoint, tokens: tokens}
}

func (f *GeminiFactory) Name() string { return f.name }

func (f *GeminiFactory) Create(model string, opts Options) Provider {
	return NewGeminiWithSource(f.name, f.endpoint, model, f.tokens, opts)
}

// --- Gemini Code Assist wire types ---

type geminiCodeAssistRequest struct {
	Model   string                 `json:"model"`
	Project string                 `json:"project,omitempty"`
	Request geminiGenerateRequest  `json:"request"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent          `json:"contents"`
	Tools             []geminiToolDecl         `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent           `json:"systemInstruction,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiToolDecl struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toGeminiSystemInstruction(system string) *geminiContent {
	if strings.TrimSpace(system) == "" {
		return nil
	}
	return &geminiContent{Parts: []geminiPart{{Text: system}}}
}

// toGeminiContents maps messages onto Gemini's user/model contents. Gemini
// rejects consecutive same-role contents, so several per-call tool results
// from one round (plus any steering user text next to them) collapse into a
// single user content with one functionResponse part per call,
// functionResponse parts leading since they must directly answer the
// preceding functionCall turn.
func toGeminiContents(messages []Message) []geminiContent {
	result := make([]geminiContent, 0, len(messages))

	appendParts := func(role string, parts []geminiPart) {
		if len(result) > 0 && result[len(result)-1].Role == role {
			merged := append(result[len(result)-1].Parts, parts...)
			if role == "user" {
				merged = funcResponsesFirst(merged)
			}
			result[len(result)-1].Parts = merged
			return
		}
		result = append(result, geminiContent{Role: role, Parts: parts})
	}

	for _, m := range messages {
		role := "user"
		switch m.Role {
		case "assistant", "model":
			role = "model"
		case "tool":
			role = "user"
		}

		var parts []geminiPart
		switch {
		case m.Role == "tool":
			parts = append(parts, geminiPart{FunctionResponse: &geminiFuncResponse{
				Name:     m.FunctionName,
				Response: json.RawMessage(`{"result":` + jsonQuote(m.Content) + `}`),
			}})
		case m.Content != "":
			parts = append(parts, geminiPart{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments}})
		}
		if len(parts) == 0 {
			continue
		}
		appendParts(role, parts)
	}
	return result
}

// funcResponsesFirst stably reorders a merged user content's parts so every
// functionResponse precedes any text.
func funcResponsesFirst(parts []geminiPart) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		if p.FunctionResponse != nil {
			out = append(out, p)
		}
	}
	for _, p := range parts {
		if p.FunctionResponse == nil {
			out = append(out, p)
		}
	}
	return out
}

func jsonQuote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func toGeminiTools(tools []Tool) []geminiToolDecl {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDecl, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		decls[i] = geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: params}
	}
	return []geminiToolDecl{{FunctionDeclarations: decls}}
}

// parseGeminiSSEStream reads SSE "data: " lines carrying Gemini
// generateContent chunks (candidates[0].content.parts[].{text,functionCall},
// usageMetadata) and emits the matching StreamEvents. Caller must close the
// reader.
func parseGeminiSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	toolIdx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("Failed to parse Gemini SSE chunk")
			continue
		}

		// Code Assist wraps the GenerateContentResponse in a "response" field.
		if inner, ok := chunk["response"].(map[string]any); ok {
			chunk = inner
		}

		if !emitGeminiChunk(ctx, ch, chunk, &toolIdx) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

func emitGeminiChunk(ctx context.Context, ch chan<- StreamEvent, chunk map[string]any, toolIdx *int) bool {
	candidates, _ := chunk["candidates"].([]any)
	if len(candidates) > 0 {
		candidate, _ := candidates[0].(map[string]any)
		content, _ := candidate["content"].(map[string]any)
		parts, _ := content["parts"].([]any)

		for _, p2 := range parts {
			part, _ := p2.(map[string]any)
			if text := getStringOrEmpty(part, "text"); text != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: text}) {
					return false
				}
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				name := getStringOrEmpty(fc, "name")
				idx := *toolIdx
				*toolIdx++
				if name != "" {
					if !trySend(ctx, ch, StreamEvent{
						Type:          EventToolCallBegin,
						ToolCallIndex: idx,
						ToolCallName:  name,
					}) {
						return false
					}
				}
				if args, ok := fc["args"]; ok {
					argsJSON, err := json.Marshal(args)
					if err == nil {
						if !trySend(ctx, ch, StreamEvent{
							Type:          EventToolCallDelta,
							ToolCallIndex: idx,
							ToolCallArgs:  string(argsJSON),
						}) {
							return false
						}
					}
				}
			}
		}
	}

	if meta, ok := chunk["usageMetadata"].(map[string]any); ok {
		in := getIntOrZero(meta, "promptTokenCount")
		out := getIntOrZero(meta, "candidatesTokenCount")
		if in > 0 || out > 0 {
			if !trySend(ctx, ch, StreamEvent{
				Type:         EventUsage,
				InputTokens:  in,
				OutputTokens: out,
			}) {
				return false
			}
		}
	}

	return true
}
